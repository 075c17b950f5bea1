package identity

import (
	"context"
	"strings"

	"github.com/isometry/dirsync/internal/directory"
)

// syntheticEmailKey is the cache key used for email addresses that are
// synthesized from a template instead of fetched from the directory.
const syntheticEmailKey = "mail"

// Identity is one resolved directory identity. It lives for the
// duration of a single login or sync operation, owns at most one open
// directory connection, and must be confined to one goroutine.
type Identity struct {
	resolver *Resolver

	domain    string
	username  string
	password  string
	attemptID string

	client *directory.Client
	cfg    *directory.Config

	dn         string
	resolved   bool
	resolveErr error

	// cache and nulls are disjoint: a key is either cached with a
	// value or confirmed absent, and is never re-queried once
	// classified.
	cache   map[string][]string
	display map[string]string // lowercased key → server spelling
	nulls   map[string]struct{}

	pending map[string]Value

	fetched        bool // combined first fetch performed
	fetchedAll     bool // full-attribute fetch performed
	hooksConsulted bool
}

// Value is one staged attribute change: either a scalar or an ordered
// list.
type Value struct {
	list   bool
	values []string
}

// Scalar stages a single-valued change. An empty string requests
// deletion.
func Scalar(v string) Value {
	return Value{values: []string{v}}
}

// List stages an ordered multi-valued change.
func List(values ...string) Value {
	return Value{list: true, values: append([]string(nil), values...)}
}

// IsList reports whether the value was staged as a list.
func (v Value) IsList() bool { return v.list }

// Values returns the staged values.
func (v Value) Values() []string { return v.values }

// First returns the first staged value, or "".
func (v Value) First() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Domain returns the identity's domain id.
func (id *Identity) Domain() string { return id.domain }

// Username returns the login name this identity was created for.
func (id *Identity) Username() string { return id.username }

// AttemptID returns the unique id stamped on this resolution attempt
// for log and audit correlation.
func (id *Identity) AttemptID() string { return id.attemptID }

// DN returns the resolved distinguished name, or "" before resolution.
func (id *Identity) DN() string { return id.dn }

// Client exposes the directory connection owned by this identity, for
// follow-up operations such as group resolution. Nil before a
// successful resolution.
func (id *Identity) Client() *directory.Client { return id.client }

// Config returns the directory source the identity resolved against.
func (id *Identity) Config() *directory.Config { return id.cfg }

// Resolve resolves the identity's DN. The outcome is memoized: a
// success is never silently re-resolved, and a fatal error is replayed
// verbatim until RefreshCredentials clears it.
func (id *Identity) Resolve(ctx context.Context, authenticate bool) (string, error) {
	if id.resolved {
		return id.dn, nil
	}
	if id.resolveErr != nil {
		return "", id.resolveErr
	}

	dn, client, err := id.resolver.resolveDN(ctx, id.domain, id.username, id.password, authenticate)
	if err != nil {
		id.resolveErr = err
		return "", err
	}

	id.dn = dn
	id.client = client
	id.cfg = client.Config()
	id.resolved = true

	id.resolver.logger.Info("identity resolved", map[string]any{
		"attempt_id":    id.attemptID,
		"domain":        id.domain,
		"username":      id.username,
		"dn":            dn,
		"authenticated": authenticate,
	})

	return dn, nil
}

// RefreshCredentials replaces the identity's credentials and clears the
// memoized resolution result so the next operation re-resolves.
func (id *Identity) RefreshCredentials(username, password string) {
	id.username = username
	id.password = password
	id.resolveErr = nil
	id.resolved = false
	id.dn = ""

	if id.client != nil {
		id.client.Close()
		id.client = nil
	}

	id.cache = make(map[string][]string)
	id.display = make(map[string]string)
	id.nulls = make(map[string]struct{})
	id.fetched = false
	id.fetchedAll = false
	id.hooksConsulted = false
}

// Close releases the identity's directory connection, if any.
func (id *Identity) Close() {
	if id.client != nil {
		id.client.Close()
		id.client = nil
	}
}

// FetchOptions controls attribute output composition.
type FetchOptions struct {
	// IncludeNulls keeps confirmed-absent keys in the output (with nil
	// values) instead of dropping them.
	IncludeNulls bool

	// IncludeChanges overlays staged pending changes on top of the
	// cached values.
	IncludeChanges bool
}

// Attributes returns the identity's directory attributes, fetching
// lazily. keys selects specific attributes (nil means everything
// known). The first call performs one combined fetch covering the
// requested keys, hook-declared keys and the configured uid, fullname
// and email attributes; later calls only fetch keys not yet classified
// as cached or absent.
func (id *Identity) Attributes(ctx context.Context, keys []string, opts FetchOptions) (map[string][]string, error) {
	if !id.resolved {
		if _, err := id.Resolve(ctx, false); err != nil {
			return nil, err
		}
	}

	if !id.fetched {
		if err := id.firstFetch(ctx, keys); err != nil {
			return nil, err
		}
	} else if err := id.fetchMissing(ctx, keys); err != nil {
		return nil, err
	}

	return id.compose(keys, opts), nil
}

// firstFetch performs the one combined fetch: requested keys, hook
// contributions, and the configured identity attributes.
func (id *Identity) firstFetch(ctx context.Context, keys []string) error {
	want := newKeySet()
	want.addAll(keys)

	if !id.hooksConsulted {
		id.hooksConsulted = true
		for _, hook := range id.resolver.hooks {
			extra, err := hook.BeforeRead(ctx, id.dn)
			if err != nil {
				return err
			}
			want.addAll(extra)
		}
	}

	want.add(id.cfg.Attributes.UID)
	want.add(id.cfg.Attributes.FullName)
	if !id.cfg.EmailIsTemplate() {
		want.add(id.cfg.Attributes.Email)
	}

	if err := id.fetch(ctx, want.list()); err != nil {
		return err
	}
	id.fetched = true

	if id.cfg.EmailIsTemplate() {
		id.synthesizeEmail()
	}

	return id.runAfterReadHooks(ctx)
}

// fetchMissing fetches only keys not already cached or confirmed
// absent. With no unknown keys and no explicit request, an empty cache
// triggers a single fetch of all attributes.
func (id *Identity) fetchMissing(ctx context.Context, keys []string) error {
	missing := newKeySet()
	for _, k := range keys {
		if id.known(k) {
			continue
		}
		missing.add(k)
	}

	if missing.empty() {
		if len(keys) == 0 && len(id.cache) == 0 && !id.fetchedAll {
			id.fetchedAll = true
			if err := id.fetch(ctx, nil); err != nil {
				return err
			}
			return id.runAfterReadHooks(ctx)
		}
		return nil
	}

	if err := id.fetch(ctx, missing.list()); err != nil {
		return err
	}
	return id.runAfterReadHooks(ctx)
}

// fetch issues one read for the given keys (nil means all attributes)
// and classifies every requested key as cached or absent.
func (id *Identity) fetch(ctx context.Context, keys []string) error {
	rs, err := id.client.Read(ctx, id.dn, "", keys)
	if err != nil {
		return err
	}

	entry := rs.Entry(0)
	if entry != nil {
		for name, values := range entry.AttributeMap() {
			id.put(name, values)
		}
	}

	for _, k := range keys {
		if k == "" {
			continue
		}
		lk := strings.ToLower(k)
		if _, ok := id.cache[lk]; !ok {
			id.nulls[lk] = struct{}{}
		}
	}

	return nil
}

// synthesizeEmail substitutes the resolved uid value into the email
// template and records the result, clearing any null marking.
func (id *Identity) synthesizeEmail() {
	uid := id.value(id.cfg.Attributes.UID)
	if uid == "" {
		uid = id.username
	}

	email := strings.ReplaceAll(id.cfg.Attributes.Email, directory.UsernamePlaceholder, uid)
	id.put(syntheticEmailKey, []string{email})
	delete(id.nulls, syntheticEmailKey)
}

func (id *Identity) runAfterReadHooks(ctx context.Context) error {
	if len(id.resolver.hooks) == 0 {
		return nil
	}

	snapshot := id.snapshot()
	for _, hook := range id.resolver.hooks {
		ok, err := hook.AfterRead(ctx, id.dn, snapshot)
		if err != nil {
			return err
		}
		if !ok {
			return directory.NewError(directory.KindCancelled, "after_read", "",
				"operation vetoed by attribute hook", nil)
		}
	}
	return nil
}

// compose builds the output map per the fetch options.
func (id *Identity) compose(keys []string, opts FetchOptions) map[string][]string {
	out := make(map[string][]string)

	if len(keys) > 0 {
		// Exactly the requested key set, defaulted as appropriate.
		for _, k := range keys {
			lk := strings.ToLower(k)
			if vs, ok := id.cache[lk]; ok {
				out[k] = append([]string(nil), vs...)
				continue
			}
			if opts.IncludeNulls {
				out[k] = nil
			}
		}
	} else {
		for lk, vs := range id.cache {
			out[id.displayName(lk)] = append([]string(nil), vs...)
		}
		if opts.IncludeNulls {
			for lk := range id.nulls {
				out[id.displayName(lk)] = nil
			}
		}
	}

	if opts.IncludeChanges {
		for k, v := range id.pending {
			if len(keys) > 0 && !containsFold(keys, k) {
				continue
			}
			out[id.displayName(strings.ToLower(k))] = append([]string(nil), v.Values()...)
		}
	}

	return out
}

// SetAttributes merges staged changes into the pending-changes map.
// Nothing is written to the directory until CommitChanges.
func (id *Identity) SetAttributes(changes map[string]Value) {
	for k, v := range changes {
		id.pending[strings.ToLower(k)] = v
	}
}

// PendingChanges reports whether any staged changes exist.
func (id *Identity) PendingChanges() bool {
	return len(id.pending) > 0
}

// snapshot copies the current cache with display names.
func (id *Identity) snapshot() map[string][]string {
	out := make(map[string][]string, len(id.cache))
	for lk, vs := range id.cache {
		out[id.displayName(lk)] = append([]string(nil), vs...)
	}
	return out
}

func (id *Identity) put(name string, values []string) {
	lk := strings.ToLower(name)
	id.cache[lk] = values
	id.display[lk] = name
	delete(id.nulls, lk)
}

func (id *Identity) known(key string) bool {
	lk := strings.ToLower(key)
	if _, ok := id.cache[lk]; ok {
		return true
	}
	_, ok := id.nulls[lk]
	return ok
}

func (id *Identity) value(key string) string {
	vs := id.cache[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (id *Identity) displayName(lower string) string {
	if name, ok := id.display[lower]; ok {
		return name
	}
	return lower
}

// keySet is an order-preserving, case-insensitive attribute name set.
type keySet struct {
	order []string
	seen  map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[string]struct{})}
}

func (s *keySet) add(key string) {
	if key == "" {
		return
	}
	lk := strings.ToLower(key)
	if _, ok := s.seen[lk]; ok {
		return
	}
	s.seen[lk] = struct{}{}
	s.order = append(s.order, key)
}

func (s *keySet) addAll(keys []string) {
	for _, k := range keys {
		s.add(k)
	}
}

func (s *keySet) empty() bool { return len(s.order) == 0 }

func (s *keySet) list() []string { return s.order }

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
