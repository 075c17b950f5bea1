package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/directory/directorytest"
	"github.com/isometry/dirsync/internal/engine"
	"github.com/isometry/dirsync/internal/groups"
	"github.com/isometry/dirsync/internal/identity"
)

const (
	proxyDN = "cn=svc,dc=example,dc=com"
	userDN  = "uid=jdoe,ou=people,dc=example,dc=com"
	adminsG = "cn=admins,ou=groups,dc=example,dc=com"
)

// fakeStore serves one domain's config and group policy.
type fakeStore struct {
	cfg    *directory.Config
	policy *engine.GroupPolicy
}

func (s *fakeStore) DirectoryConfigs(domain string) ([]*directory.Config, error) {
	return []*directory.Config{s.cfg}, nil
}

func (s *fakeStore) GroupPolicy(domain string) (*engine.GroupPolicy, error) {
	return s.policy, nil
}

// fakeUserStore records the applied projection.
type fakeUserStore struct {
	current []string
	applied *engine.User
	delta   groups.Delta
	applies int
}

func (s *fakeUserStore) CurrentGroups(ctx context.Context, domain, username string) ([]string, error) {
	return s.current, nil
}

func (s *fakeUserStore) Apply(ctx context.Context, user *engine.User, delta groups.Delta) error {
	s.applied = user
	s.delta = delta
	s.applies++
	return nil
}

// recordingSink captures audit records.
type recordingSink struct {
	records []engine.Record
}

func (r *recordingSink) Audit(rec engine.Record) {
	r.records = append(r.records, rec)
}

func engineConfig(t *testing.T) *directory.Config {
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

func engineServer() *directorytest.Server {
	server := directorytest.NewServer()
	server.SetPassword(proxyDN, "proxypw")
	server.SetPassword(userDN, "hunter2")
	server.AddEntry(userDN, map[string][]string{
		"uid":  {"jdoe"},
		"cn":   {"John Doe"},
		"mail": {"jdoe@example.com"},
	})
	server.AddEntry(adminsG, map[string][]string{
		"cn":     {"admins"},
		"member": {userDN},
	})
	return server
}

func reversePolicy() *engine.GroupPolicy {
	return &engine.GroupPolicy{
		Orientation: engine.OrientationReverse,
		MemberAttr:  "member",
		Mapping: groups.Policy{
			ValidateDN: true,
			Mode:       groups.ManageRuleTargets,
			Rules: []groups.Rule{
				{Selector: "cn=admins,ou=groups", TargetGroups: []string{"admins"}},
			},
			FallbackGroup: "public",
		},
	}
}

func newEngine(t *testing.T, server *directorytest.Server, policy *engine.GroupPolicy, users engine.UserStore, opts ...engine.Option) *engine.Engine {
	t.Helper()

	store := &fakeStore{cfg: engineConfig(t), policy: policy}
	resolver := identity.NewResolver(store, identity.WithDialer(server.Dialer()))
	return engine.New(store, resolver, users, opts...)
}

func TestLoginSynchronizesAccount(t *testing.T) {
	server := engineServer()
	users := &fakeUserStore{current: []string{"stale"}}
	sink := &recordingSink{}

	eng := newEngine(t, server, reversePolicy(), users, engine.WithAudit(sink))

	result, err := eng.Login(context.Background(), "corp", "jdoe", "hunter2")
	require.NoError(t, err)
	defer result.Identity.Close()

	assert.Equal(t, userDN, result.Identity.DN())
	assert.Equal(t, []string{adminsG}, result.GroupDNs)
	assert.Equal(t, []string{"admins"}, result.Delta.ToAdd)
	assert.Empty(t, result.Delta.ToRemove)

	require.NotNil(t, users.applied)
	assert.Equal(t, "jdoe", users.applied.Username)
	assert.Equal(t, "John Doe", users.applied.FullName)
	assert.Equal(t, "jdoe@example.com", users.applied.Email)
	assert.Equal(t, 1, users.applies)

	require.Len(t, sink.records, 1)
	assert.Equal(t, engine.LevelInfo, sink.records[0].Level)
	assert.Equal(t, "login", sink.records[0].Category)
	assert.NotEmpty(t, sink.records[0].AttemptID)
}

func TestLoginBadPasswordAudited(t *testing.T) {
	server := engineServer()
	users := &fakeUserStore{}
	sink := &recordingSink{}

	eng := newEngine(t, server, reversePolicy(), users, engine.WithAudit(sink))

	_, err := eng.Login(context.Background(), "corp", "jdoe", "wrong")
	require.Error(t, err)
	assert.True(t, directory.IsAuthentication(err))
	assert.Zero(t, users.applies)

	require.Len(t, sink.records, 1)
	assert.Equal(t, engine.LevelError, sink.records[0].Level)
	assert.Equal(t, directory.CodeBadPassword, sink.records[0].Code)
}

func TestSyncWithoutGroups(t *testing.T) {
	server := engineServer()
	users := &fakeUserStore{}

	policy := &engine.GroupPolicy{Orientation: engine.OrientationNone}
	eng := newEngine(t, server, policy, users)

	result, err := eng.Sync(context.Background(), "corp", "jdoe")
	require.NoError(t, err)
	defer result.Identity.Close()

	assert.Empty(t, result.GroupDNs)
	assert.Equal(t, 1, users.applies)
	// No candidate bind happened: the user never authenticated.
	for _, call := range server.BindCalls {
		assert.Equal(t, proxyDN, call.DN)
	}
}

func TestSyncHookVetoCancels(t *testing.T) {
	server := engineServer()
	users := &fakeUserStore{}

	store := &fakeStore{cfg: engineConfig(t), policy: reversePolicy()}
	veto := identity.HookFuncs{
		After: func(ctx context.Context, dn string, attrs map[string][]string) (bool, error) {
			return false, nil
		},
	}
	resolver := identity.NewResolver(store,
		identity.WithDialer(server.Dialer()),
		identity.WithHooks(veto),
	)
	eng := engine.New(store, resolver, users)

	_, err := eng.Sync(context.Background(), "corp", "jdoe")
	require.Error(t, err)
	assert.True(t, directory.IsCancelled(err))
	assert.Zero(t, users.applies)
}

func TestLoginForwardOrientation(t *testing.T) {
	server := directorytest.NewServer()
	server.SetPassword(proxyDN, "proxypw")
	server.SetPassword(userDN, "hunter2")
	server.AddEntry(userDN, map[string][]string{
		"uid":      {"jdoe"},
		"cn":       {"John Doe"},
		"mail":     {"jdoe@example.com"},
		"memberOf": {adminsG},
	})
	server.AddEntry(adminsG, map[string][]string{
		"distinguishedName": {adminsG},
	})

	policy := &engine.GroupPolicy{
		Orientation: engine.OrientationForward,
		MemberAttr:  "memberOf",
		GroupAttr:   "distinguishedName",
		Mapping: groups.Policy{
			ValidateDN: true,
			Rules: []groups.Rule{
				{Selector: "cn=admins", TargetGroups: []string{"admins"}},
			},
		},
	}

	users := &fakeUserStore{}
	eng := newEngine(t, server, policy, users)

	result, err := eng.Login(context.Background(), "corp", "jdoe", "hunter2")
	require.NoError(t, err)
	defer result.Identity.Close()

	assert.Equal(t, []string{adminsG}, result.GroupDNs)
	assert.Equal(t, []string{"admins"}, result.Delta.ToAdd)
}
