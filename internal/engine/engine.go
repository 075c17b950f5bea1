// Package engine ties resolution, attribute fetching, group expansion
// and delta computation into the login and sync flows a host
// application drives.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/groups"
	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/logging"
)

// Orientation selects how group membership is stored in the directory.
type Orientation string

const (
	// OrientationNone disables group expansion for the domain.
	OrientationNone Orientation = "none"
	// OrientationForward reads a membership attribute off the identity.
	OrientationForward Orientation = "forward"
	// OrientationReverse reads a member list off each group.
	OrientationReverse Orientation = "reverse"
)

// GroupPolicy is the per-domain group expansion and mapping
// configuration.
type GroupPolicy struct {
	Orientation Orientation `mapstructure:"orientation" default:"none"`

	// MemberAttr is the identity's membership attribute (forward) or
	// the group entry's member attribute (reverse).
	MemberAttr string `mapstructure:"member_attr"`

	// GroupAttr is the DN-style attribute group entries carry, used as
	// the search term in forward expansion.
	GroupAttr string `mapstructure:"group_attr"`

	// Base overrides the directory search base for group searches.
	Base string `mapstructure:"base"`

	// MaxDepth bounds nested expansion; 0 means unlimited.
	MaxDepth int `mapstructure:"max_depth"`

	Mapping groups.Policy `mapstructure:"mapping"`
}

func (p *GroupPolicy) depth() groups.Depth {
	if p.MaxDepth <= 0 {
		return groups.Unlimited()
	}
	return groups.Limit(p.MaxDepth)
}

// Store supplies all per-domain configuration the engine consumes.
type Store interface {
	identity.ConfigStore
	GroupPolicy(domain string) (*GroupPolicy, error)
}

// User is the projection handed to the local account store.
type User struct {
	Domain     string
	Username   string
	DN         string
	FullName   string
	Email      string
	Attributes map[string][]string
	Groups     []string
}

// UserStore persists local accounts and their group sets. The engine
// never persists anything itself.
type UserStore interface {
	// CurrentGroups returns the local group ids the account holds, or
	// an empty slice for an unknown account.
	CurrentGroups(ctx context.Context, domain, username string) ([]string, error)

	// Apply creates or updates the account and applies the group
	// delta.
	Apply(ctx context.Context, user *User, delta groups.Delta) error
}

// Level grades audit records.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Record is one structured audit event.
type Record struct {
	Time      time.Time
	Level     Level
	Category  string
	Code      string
	Message   string
	AttemptID string
	Domain    string
	Username  string
}

// AuditSink receives audit records. Implementations must not block.
type AuditSink interface {
	Audit(rec Record)
}

// nopAudit discards records.
type nopAudit struct{}

func (nopAudit) Audit(Record) {}

// Engine is the synchronization facade.
type Engine struct {
	store    Store
	resolver *identity.Resolver
	users    UserStore
	audit    AuditSink
	logger   logging.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithAudit attaches an audit sink.
func WithAudit(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over the given configuration store, resolver
// and local account store.
func New(store Store, resolver *identity.Resolver, users UserStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: resolver,
		users:    users,
		audit:    nopAudit{},
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one login or sync operation.
type Result struct {
	Identity   *identity.Identity
	Attributes map[string][]string
	GroupDNs   []string
	Delta      groups.Delta
}

// Login authenticates the user against the directory and synchronizes
// the local account. The caller owns the returned identity's
// connection and must Close it.
func (e *Engine) Login(ctx context.Context, domain, username, password string) (*Result, error) {
	return e.run(ctx, domain, username, password, true)
}

// Sync refreshes the local account without authenticating, using the
// proxy credentials configured on the directory source.
func (e *Engine) Sync(ctx context.Context, domain, username string) (*Result, error) {
	return e.run(ctx, domain, username, "", false)
}

func (e *Engine) run(ctx context.Context, domain, username, password string, authenticate bool) (*Result, error) {
	category := "sync"
	if authenticate {
		category = "login"
	}

	id, err := e.resolver.Resolve(ctx, domain, username, password, authenticate)
	if err != nil {
		e.record(LevelError, category, directory.CodeOf(err), err.Error(), id, domain, username)
		return nil, err
	}

	result, err := e.synchronize(ctx, id, domain, username)
	if err != nil {
		id.Close()
		e.record(LevelError, category, directory.CodeOf(err), err.Error(), id, domain, username)
		return nil, err
	}

	e.record(LevelInfo, category, "", "account synchronized", id, domain, username)
	return result, nil
}

func (e *Engine) synchronize(ctx context.Context, id *identity.Identity, domain, username string) (*Result, error) {
	policy, err := e.store.GroupPolicy(domain)
	if err != nil {
		return nil, err
	}

	var keys []string
	if policy.Orientation == OrientationForward && policy.MemberAttr != "" {
		keys = []string{policy.MemberAttr}
	}

	attrs, err := id.Attributes(ctx, keys, identity.FetchOptions{})
	if err != nil {
		return nil, err
	}
	// The keyed fetch above primes the cache; the full view is what
	// callers and the user store see.
	if keys != nil {
		if attrs, err = id.Attributes(ctx, nil, identity.FetchOptions{}); err != nil {
			return nil, err
		}
	}

	groupDNs, err := e.expandGroups(ctx, id, policy, attrs)
	if err != nil {
		return nil, err
	}

	current, err := e.users.CurrentGroups(ctx, domain, username)
	if err != nil {
		return nil, err
	}
	delta := policy.Mapping.ComputeDelta(groupDNs, current)

	cfg := id.Config()
	user := &User{
		Domain:     domain,
		Username:   username,
		DN:         id.DN(),
		FullName:   firstValue(attrs, cfg.Attributes.FullName),
		Email:      firstValue(attrs, cfg.Attributes.Email),
		Attributes: attrs,
		Groups:     groupDNs,
	}
	if cfg.EmailIsTemplate() {
		user.Email = firstValue(attrs, "mail")
	}

	if err := e.users.Apply(ctx, user, delta); err != nil {
		return nil, err
	}

	e.logger.Info("account applied", map[string]any{
		"attempt_id": id.AttemptID(),
		"domain":     domain,
		"username":   username,
		"dn":         id.DN(),
		"groups":     len(groupDNs),
		"add":        delta.ToAdd,
		"remove":     delta.ToRemove,
	})

	return &Result{
		Identity:   id,
		Attributes: attrs,
		GroupDNs:   groupDNs,
		Delta:      delta,
	}, nil
}

func (e *Engine) expandGroups(ctx context.Context, id *identity.Identity, policy *GroupPolicy, attrs map[string][]string) ([]string, error) {
	return ExpandGroups(ctx, id, policy, attrs, e.logger)
}

// ExpandGroups runs the configured group expansion over the identity's
// surviving connection.
func ExpandGroups(ctx context.Context, id *identity.Identity, policy *GroupPolicy, attrs map[string][]string, logger logging.Logger) ([]string, error) {
	if policy.Orientation == OrientationNone || policy.Orientation == "" {
		return nil, nil
	}

	cfg := id.Config()
	base := policy.Base
	if base == "" {
		base = cfg.SearchBase()
	}

	client := id.Client()
	if err := client.ProxyBind(); err != nil {
		return nil, err
	}

	resolver := groups.NewResolver(client, base, logging.OrNop(logger))

	switch policy.Orientation {
	case OrientationForward:
		refs := valuesOf(attrs, policy.MemberAttr)
		if len(refs) == 0 {
			return nil, nil
		}
		return resolver.Forward(ctx, refs, policy.depth(), policy.MemberAttr, policy.GroupAttr)
	default:
		return resolver.Reverse(ctx, []string{id.DN()}, policy.depth(), policy.MemberAttr)
	}
}

func (e *Engine) record(level Level, category, code, message string, id *identity.Identity, domain, username string) {
	attemptID := ""
	if id != nil {
		attemptID = id.AttemptID()
	}
	e.audit.Audit(Record{
		Time:      time.Now(),
		Level:     level,
		Category:  category,
		Code:      code,
		Message:   message,
		AttemptID: attemptID,
		Domain:    domain,
		Username:  username,
	})
}

// valuesOf looks a key up case-insensitively; attribute maps carry
// server-spelled names.
func valuesOf(attrs map[string][]string, key string) []string {
	if vs, ok := attrs[key]; ok {
		return vs
	}
	for k, vs := range attrs {
		if strings.EqualFold(k, key) {
			return vs
		}
	}
	return nil
}

func firstValue(attrs map[string][]string, key string) string {
	if vs := valuesOf(attrs, key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}
