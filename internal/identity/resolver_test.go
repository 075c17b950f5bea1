package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/directory/directorytest"
	"github.com/isometry/dirsync/internal/identity"
)

// staticStore serves fixed configs per domain.
type staticStore map[string][]*directory.Config

func (s staticStore) DirectoryConfigs(domain string) ([]*directory.Config, error) {
	return s[domain], nil
}

const proxyDN = "cn=svc,dc=example,dc=com"

func searchModeConfig(t *testing.T) *directory.Config {
	t.Helper()
	cfg := &directory.Config{
		Host:          "ldap.example.com",
		BaseDN:        "dc=example,dc=com",
		UserQuery:     "(uid={username})",
		ProxyDN:       proxyDN,
		ProxyPassword: "proxypw",
	}
	require.NoError(t, cfg.Normalize())
	return cfg
}

func directBindConfig(t *testing.T) *directory.Config {
	t.Helper()
	cfg := &directory.Config{
		Host:   "ldap.example.com",
		BaseDN: "dc=example,dc=com",
		UserQuery: "uid={username},ou=a,dc=example,dc=com;" +
			"uid={username},ou=b,dc=example,dc=com;" +
			"uid={username},ou=c,dc=example,dc=com",
		ProxyDN:       proxyDN,
		ProxyPassword: "proxypw",
	}
	require.NoError(t, cfg.Normalize())
	return cfg
}

func newServer() *directorytest.Server {
	server := directorytest.NewServer()
	server.SetPassword(proxyDN, "proxypw")
	return server
}

// candidateBinds counts bind attempts excluding the proxy account.
func candidateBinds(server *directorytest.Server) []directorytest.BindAttempt {
	var out []directorytest.BindAttempt
	for _, call := range server.BindCalls {
		if call.DN != proxyDN {
			out = append(out, call)
		}
	}
	return out
}

func TestResolveDirectBindFirstSuccessWins(t *testing.T) {
	cfg := directBindConfig(t)
	server := newServer()
	server.SetPassword("uid=jdoe,ou=b,dc=example,dc=com", "hunter2")

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	id, err := resolver.Resolve(context.Background(), "corp", "jdoe", "hunter2", true)
	require.NoError(t, err)
	defer id.Close()

	assert.Equal(t, "uid=jdoe,ou=b,dc=example,dc=com", id.DN())

	// Candidates bind in template order and stop at the first success:
	// a is attempted, b succeeds, c is never tried.
	binds := candidateBinds(server)
	require.Len(t, binds, 2)
	assert.Equal(t, "uid=jdoe,ou=a,dc=example,dc=com", binds[0].DN)
	assert.Equal(t, "uid=jdoe,ou=b,dc=example,dc=com", binds[1].DN)
}

func TestResolveSearchModeUnknownUser(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	_, err := resolver.Resolve(context.Background(), "corp", "ghost", "whatever", true)
	require.Error(t, err)
	assert.True(t, directory.IsNotFound(err))
	assert.Equal(t, directory.CodeUserNotFound, directory.CodeOf(err))
	assert.Empty(t, candidateBinds(server))
}

func TestResolveSearchModeWrongPassword(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()
	server.AddEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"uid": {"jdoe"},
	})
	server.SetPassword("uid=jdoe,ou=people,dc=example,dc=com", "hunter2")

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	_, err := resolver.Resolve(context.Background(), "corp", "jdoe", "wrong", true)
	require.Error(t, err)
	assert.True(t, directory.IsAuthentication(err))
	assert.Equal(t, directory.CodeBadPassword, directory.CodeOf(err))
}

func TestResolveDirectBindNoCandidateBound(t *testing.T) {
	cfg := directBindConfig(t)
	server := newServer()

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	_, err := resolver.Resolve(context.Background(), "corp", "jdoe", "wrong", true)
	require.Error(t, err)
	assert.True(t, directory.IsAuthentication(err))
	assert.Equal(t, directory.CodeNoCandidateBound, directory.CodeOf(err))
	assert.Len(t, candidateBinds(server), 3)
}

func TestResolveUnauthenticatedSearchMode(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()
	server.AddEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"uid": {"jdoe"},
	})

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	id, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.NoError(t, err)
	defer id.Close()

	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", id.DN())
	assert.Empty(t, candidateBinds(server))
}

func TestResolveUnauthenticatedDirectBindProbesExistence(t *testing.T) {
	cfg := directBindConfig(t)
	server := newServer()
	server.AddEntry("uid=jdoe,ou=c,dc=example,dc=com", map[string][]string{
		"uid": {"jdoe"},
	})

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	id, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.NoError(t, err)
	defer id.Close()

	// a and b do not exist; the probe settles on c without binding as
	// the user.
	assert.Equal(t, "uid=jdoe,ou=c,dc=example,dc=com", id.DN())
	assert.Empty(t, candidateBinds(server))
}

func TestResolveSingleSourceErrorPassesThrough(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()
	server.SearchErr = ldap.NewError(ldap.LDAPResultUnavailable, errors.New("down"))

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	_, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.Error(t, err)

	// One source means its own error comes back, never an aggregate.
	var agg *identity.AggregateError
	assert.False(t, errors.As(err, &agg))
	assert.True(t, directory.IsProtocol(err))
}

func TestResolveAggregatesMultiSourceFailures(t *testing.T) {
	server := newServer()
	server.SearchErr = ldap.NewError(ldap.LDAPResultUnavailable, errors.New("down"))

	resolver := identity.NewResolver(
		staticStore{"corp": {searchModeConfig(t), searchModeConfig(t)}},
		identity.WithDialer(server.Dialer()),
	)

	_, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.Error(t, err)

	var agg *identity.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, "corp", agg.Domain)
	assert.Len(t, agg.Errors, 2)
	assert.True(t, directory.IsProtocol(agg.Errors[0]))
}

func TestResolveMemoizesFailure(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()
	server.SearchErr = ldap.NewError(ldap.LDAPResultUnavailable, errors.New("down"))

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	id, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.Error(t, err)

	// The source recovers, but the stored error replays verbatim until
	// the identity is explicitly refreshed.
	server.SearchErr = nil
	server.AddEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"uid": {"jdoe"},
	})

	_, err2 := id.Resolve(context.Background(), false)
	require.Error(t, err2)
	assert.Same(t, err, err2)

	id.RefreshCredentials("jdoe", "")
	dn, err := id.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", dn)
	defer id.Close()
}

func TestResolveNoSourcesConfigured(t *testing.T) {
	resolver := identity.NewResolver(staticStore{})

	_, err := resolver.Resolve(context.Background(), "nowhere", "jdoe", "", false)
	require.Error(t, err)
	assert.True(t, directory.IsConnectivity(err))
}

func TestResolveMemoizesSuccess(t *testing.T) {
	cfg := searchModeConfig(t)
	server := newServer()
	server.AddEntry("uid=jdoe,ou=people,dc=example,dc=com", map[string][]string{
		"uid": {"jdoe"},
	})

	resolver := identity.NewResolver(
		staticStore{"corp": {cfg}},
		identity.WithDialer(server.Dialer()),
	)

	id, err := resolver.Resolve(context.Background(), "corp", "jdoe", "", false)
	require.NoError(t, err)
	defer id.Close()

	searches := server.SearchCount()
	dn, err := id.Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, id.DN(), dn)
	assert.Equal(t, searches, server.SearchCount())
}
