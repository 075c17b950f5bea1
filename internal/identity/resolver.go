// Package identity implements username-to-DN resolution against one or
// more configured directory sources, and the per-identity attribute
// cache with its diff-based change engine.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/logging"
)

// ConfigStore yields the ordered directory sources for a domain. The
// returned configs are immutable snapshots, tried in priority order.
type ConfigStore interface {
	DirectoryConfigs(domain string) ([]*directory.Config, error)
}

// AggregateError wraps the per-source errors when more than one
// configured source failed during resolution, so callers can tell one
// misconfigured source from systemic failure.
type AggregateError struct {
	Domain string
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("all %d directory sources for domain %q failed: %s",
		len(e.Errors), e.Domain, strings.Join(msgs, "; "))
}

// Unwrap exposes the underlying errors to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Resolver resolves usernames to distinguished names.
type Resolver struct {
	store  ConfigStore
	hooks  []Hook
	dialer directory.Dialer
	logger logging.Logger
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHooks attaches the ordered attribute-augmentation hooks.
func WithHooks(hooks ...Hook) ResolverOption {
	return func(r *Resolver) { r.hooks = hooks }
}

// WithDialer substitutes the connection factory (used by tests).
func WithDialer(d directory.Dialer) ResolverOption {
	return func(r *Resolver) { r.dialer = d }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver backed by the given config store.
func NewResolver(store ConfigStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		dialer: directory.DefaultDialer,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewIdentity creates an unresolved identity. No I/O happens until
// Resolve or an attribute operation.
func (r *Resolver) NewIdentity(domain, username, password string) *Identity {
	return &Identity{
		resolver:  r,
		domain:    domain,
		username:  username,
		password:  password,
		attemptID: uuid.New().String(),
		cache:     make(map[string][]string),
		display:   make(map[string]string),
		nulls:     make(map[string]struct{}),
		pending:   make(map[string]Value),
	}
}

// Resolve creates an identity and resolves its DN in one step. The
// identity is returned even on failure so the memoized error replays
// on subsequent use until RefreshCredentials.
func (r *Resolver) Resolve(ctx context.Context, domain, username, password string, authenticate bool) (*Identity, error) {
	id := r.NewIdentity(domain, username, password)
	_, err := id.Resolve(ctx, authenticate)
	return id, err
}

// resolveDN runs the multi-source resolution state machine and returns
// the resolved DN along with the client holding the surviving
// connection.
func (r *Resolver) resolveDN(ctx context.Context, domain, username, password string, authenticate bool) (string, *directory.Client, error) {
	configs, err := r.store.DirectoryConfigs(domain)
	if err != nil {
		return "", nil, directory.NewError(directory.KindConnectivity, "resolve", "",
			fmt.Sprintf("cannot load directory sources for domain %q", domain), err)
	}
	if len(configs) == 0 {
		return "", nil, directory.NewError(directory.KindConnectivity, "resolve", "",
			fmt.Sprintf("no directory sources configured for domain %q", domain), nil)
	}

	var failures []error
	for _, cfg := range configs {
		client := directory.NewClient(cfg,
			directory.WithDialer(r.dialer),
			directory.WithLogger(r.logger),
		)

		dn, err := r.resolveWith(ctx, client, cfg, username, password, authenticate)
		if err != nil {
			client.Close()
			failures = append(failures, err)

			r.logger.Warn("directory source failed, trying next", map[string]any{
				"domain": domain,
				"url":    cfg.URL(),
				"error":  err.Error(),
			})
			continue
		}

		return dn, client, nil
	}

	if len(failures) == 1 {
		return "", nil, failures[0]
	}
	return "", nil, &AggregateError{Domain: domain, Errors: failures}
}

// resolveWith runs discovery and authentication against one source.
func (r *Resolver) resolveWith(ctx context.Context, client *directory.Client, cfg *directory.Config, username, password string, authenticate bool) (string, error) {
	if err := client.Connect(ctx); err != nil {
		return "", err
	}

	var (
		candidates []string
		err        error
	)
	if cfg.SearchMode() {
		candidates, err = r.searchCandidates(ctx, client, cfg, username)
	} else {
		candidates = directCandidates(cfg, username)
	}
	if err != nil {
		return "", err
	}

	if len(candidates) == 0 {
		return "", directory.NewError(directory.KindNotFound, "resolve", directory.CodeUserNotFound,
			fmt.Sprintf("no DN candidates for user %q", username), nil)
	}

	if authenticate {
		return r.authenticateCandidates(client, cfg, candidates, password)
	}
	return r.chooseCandidate(ctx, client, cfg, candidates)
}

// searchCandidates discovers candidate DNs by substituting the
// filter-escaped username into the configured filter and searching
// under the source's base.
func (r *Resolver) searchCandidates(ctx context.Context, client *directory.Client, cfg *directory.Config, username string) ([]string, error) {
	if err := client.ProxyBind(); err != nil {
		return nil, err
	}

	filter := buildUserFilter(cfg.UserQuery, username)
	rs, err := client.Search(ctx, cfg.SearchBase(), filter, []string{cfg.Attributes.UID})
	if err != nil {
		return nil, err
	}

	return rs.DNs(), nil
}

// directCandidates substitutes the DN-escaped username into each
// semicolon-separated DN template, preserving template order.
func directCandidates(cfg *directory.Config, username string) []string {
	escaped := directory.EscapeDNValue(username)

	var candidates []string
	for _, tpl := range strings.Split(cfg.UserQuery, ";") {
		dn := strings.TrimSpace(strings.ReplaceAll(tpl, directory.UsernamePlaceholder, escaped))
		if dn == "" {
			continue
		}
		candidates = append(candidates, dn)
	}
	return candidates
}

// authenticateCandidates binds each candidate in order; the first
// successful bind wins and no later candidate is attempted.
func (r *Resolver) authenticateCandidates(client *directory.Client, cfg *directory.Config, candidates []string, password string) (string, error) {
	for _, dn := range candidates {
		if err := client.Bind(dn, password); err == nil {
			return dn, nil
		}
	}

	// Distinct codes: in search-mode the user definitely exists, so
	// this is a password problem; in direct-bind-mode it may equally
	// be a template misconfiguration.
	code := directory.CodeNoCandidateBound
	msg := "no direct-bind candidate authenticated"
	if cfg.SearchMode() {
		code = directory.CodeBadPassword
		msg = "user found but credentials rejected"
	}
	return "", directory.NewError(directory.KindAuthentication, "resolve", code, msg, nil)
}

// chooseCandidate picks the resolved DN without authenticating. In
// search-mode the first hit is trusted. In direct-bind-mode each
// template result is probed for existence under a proxy bind; when the
// proxy bind itself fails, the first candidate is trusted with a
// low-confidence note.
func (r *Resolver) chooseCandidate(ctx context.Context, client *directory.Client, cfg *directory.Config, candidates []string) (string, error) {
	if cfg.SearchMode() {
		return candidates[0], nil
	}

	if err := client.ProxyBind(); err != nil {
		r.logger.Warn("proxy bind failed, trusting first direct-bind candidate unverified", map[string]any{
			"candidate": candidates[0],
			"error":     err.Error(),
		})
		return candidates[0], nil
	}

	for _, dn := range candidates {
		rs, err := client.Read(ctx, dn, "", []string{cfg.Attributes.UID})
		if err != nil {
			return "", err
		}
		if !rs.Empty() {
			return dn, nil
		}
	}

	return "", directory.NewError(directory.KindNotFound, "resolve", directory.CodeUserNotFound,
		"no direct-bind candidate exists in the directory", nil)
}

// buildUserFilter substitutes the escaped username into the query
// template, wrapping the result in parentheses when the template is
// not already a filter expression.
func buildUserFilter(template, username string) string {
	filter := strings.ReplaceAll(template, directory.UsernamePlaceholder, directory.EscapeFilterValue(username))
	if !strings.HasPrefix(strings.TrimSpace(filter), "(") {
		filter = "(" + filter + ")"
	}
	return filter
}
