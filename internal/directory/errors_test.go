package directory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorExtractsLDAPCode(t *testing.T) {
	tests := []struct {
		name     string
		cause    error
		wantCode uint16
	}{
		{
			name:     "ldap error",
			cause:    ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCode: ldap.LDAPResultInvalidCredentials,
		},
		{
			name:     "wrapped ldap error",
			cause:    fmt.Errorf("outer: %w", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("gone"))),
			wantCode: ldap.LDAPResultNoSuchObject,
		},
		{
			name:     "generic error",
			cause:    errors.New("connection refused"),
			wantCode: 0,
		},
		{
			name:     "nil cause",
			cause:    nil,
			wantCode: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(KindProtocol, "search", "", "it broke", tt.cause)
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.LDAPCode)
			assert.Equal(t, KindProtocol, err.Kind)
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindBind, "bind", CodeInvalidCredentials, "rejected", cause)

	assert.ErrorIs(t, err, cause)

	var typed *Error
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &typed)
	assert.Equal(t, CodeInvalidCredentials, typed.Code)
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"connectivity", NewError(KindConnectivity, "connect", CodeDial, "", nil), IsConnectivity, true},
		{"bind", NewError(KindBind, "bind", "", "", nil), IsBind, true},
		{"not found", NewError(KindNotFound, "resolve", CodeUserNotFound, "", nil), IsNotFound, true},
		{"authentication", NewError(KindAuthentication, "resolve", CodeBadPassword, "", nil), IsAuthentication, true},
		{"protocol", ProtocolError("modify", "cn=x", errors.New("boom")), IsProtocol, true},
		{"cancelled", NewError(KindCancelled, "after_read", "", "", nil), IsCancelled, true},
		{"wrong kind", NewError(KindBind, "bind", "", "", nil), IsNotFound, false},
		{"untyped", errors.New("plain"), IsProtocol, false},
		{"nil", nil, IsBind, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeReferrals, CodeOf(NewError(KindConnectivity, "connect", CodeReferrals, "", nil)))
	assert.Empty(t, CodeOf(errors.New("plain")))
	assert.Empty(t, CodeOf(nil))
}

func TestProtocolErrorCarriesDN(t *testing.T) {
	err := ProtocolError("modify", "cn=user,dc=example", ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("no")))

	assert.Equal(t, "cn=user,dc=example", err.DN)
	assert.Equal(t, uint16(ldap.LDAPResultUnwillingToPerform), err.LDAPCode)
	assert.Contains(t, err.Error(), "modify")
	assert.Contains(t, err.Error(), "cn=user,dc=example")
}
