package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplodeDN(t *testing.T) {
	tests := []struct {
		name    string
		dn      string
		want    []string
		wantErr bool
	}{
		{
			name: "simple DN",
			dn:   "CN=Admins,OU=People,DC=example,DC=com",
			want: []string{"cn=admins", "ou=people", "dc=example", "dc=com"},
		},
		{
			name: "single RDN",
			dn:   "dc=com",
			want: []string{"dc=com"},
		},
		{
			name: "multi-valued RDN",
			dn:   "CN=Doe+UID=jdoe,OU=People",
			want: []string{"cn=doe+uid=jdoe", "ou=people"},
		},
		{
			name: "escaped comma",
			dn:   `CN=Doe\, John,OU=People`,
			want: []string{"cn=doe, john", "ou=people"},
		},
		{
			name:    "empty",
			dn:      "",
			wantErr: true,
		},
		{
			name:    "malformed",
			dn:      "not a dn",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExplodeDN(tt.dn)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRDNValue(t *testing.T) {
	tests := []struct {
		name     string
		dn       string
		attrType string
		want     string
		wantErr  bool
	}{
		{
			name:     "leading cn",
			dn:       "CN=Admins,OU=People,DC=example,DC=com",
			attrType: "cn",
			want:     "Admins",
		},
		{
			name:     "case insensitive attribute type",
			dn:       "uid=jdoe,ou=people",
			attrType: "UID",
			want:     "jdoe",
		},
		{
			name:     "deeper RDN",
			dn:       "cn=admins,ou=people,dc=example",
			attrType: "dc",
			want:     "example",
		},
		{
			name:     "missing type",
			dn:       "cn=admins,ou=people",
			attrType: "uid",
			wantErr:  true,
		},
		{
			name:     "malformed DN",
			dn:       "::::",
			attrType: "cn",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RDNValue(tt.dn, tt.attrType)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualDN(t *testing.T) {
	assert.True(t, EqualDN("CN=Admins,OU=People", "cn=admins,ou=people"))
	assert.True(t, EqualDN("cn=a, ou=b", "cn=a,ou=b"))
	assert.False(t, EqualDN("cn=a,ou=b", "cn=a,ou=c"))
	assert.False(t, EqualDN("cn=a,ou=b", "cn=a"))
	assert.False(t, EqualDN("malformed", "cn=a"))
}
