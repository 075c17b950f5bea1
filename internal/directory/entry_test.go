package directory

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryFromLDAP(t *testing.T) {
	raw := ldap.NewEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"UID":       {"jdoe"},
		"mail":      {"jdoe@example.com", "john@example.com"},
		"emptyAttr": {},
	})

	entry := entryFromLDAP(raw)

	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", entry.DN)

	// Lookups are case-insensitive.
	assert.True(t, entry.Has("uid"))
	assert.True(t, entry.Has("Uid"))
	assert.Equal(t, "jdoe", entry.Value("UID"))

	assert.Equal(t, "john@example.com", entry.ValueAt("mail", 1))
	assert.Empty(t, entry.ValueAt("mail", 5))

	// Zero-valued attributes are not carried: absent means "not
	// returned", never "empty".
	assert.False(t, entry.Has("emptyAttr"))
	assert.False(t, entry.Has("missing"))
	assert.Nil(t, entry.Values("missing"))
}

func TestResultSet(t *testing.T) {
	rs := resultSetFromLDAP(&ldap.SearchResult{
		Entries: []*ldap.Entry{
			ldap.NewEntry("uid=a,dc=example,dc=com", map[string][]string{"uid": {"a"}}),
			ldap.NewEntry("uid=b,dc=example,dc=com", map[string][]string{"uid": {"b"}}),
		},
	})

	require.Equal(t, 2, rs.Len())
	assert.False(t, rs.Empty())
	assert.Equal(t, []string{"uid=a,dc=example,dc=com", "uid=b,dc=example,dc=com"}, rs.DNs())
	assert.Equal(t, "b", rs.Value(1, "uid", 0))
	assert.Empty(t, rs.Value(5, "uid", 0))
	assert.Nil(t, rs.Entry(-1))

	empty := &ResultSet{}
	assert.True(t, empty.Empty())
	assert.Nil(t, empty.Entry(0))
}
