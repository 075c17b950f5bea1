// Package groups implements recursive, cycle-safe group membership
// resolution and the rule-based comparison of directory groups against
// locally managed authorization groups.
package groups

import (
	"context"
	"strings"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/logging"
)

// DNAttr is the pseudo-attribute selecting an entry's own DN as the
// membership storage attribute, used by reverse lookups where groups
// carry a member list.
const DNAttr = "dn"

// Depth bounds the recursion of a group resolution. The zero value is
// NOT unlimited; use Unlimited explicitly.
type Depth struct {
	limited   bool
	remaining int
}

// Unlimited returns a depth with no recursion bound. Termination is
// still guaranteed by the visited set.
func Unlimited() Depth {
	return Depth{}
}

// Limit bounds the recursion to n expansion steps.
func Limit(n int) Depth {
	return Depth{limited: true, remaining: n}
}

// next consumes one expansion step.
func (d Depth) next() (Depth, bool) {
	if !d.limited {
		return d, true
	}
	if d.remaining <= 1 {
		return Depth{limited: true}, false
	}
	return Depth{limited: true, remaining: d.remaining - 1}, true
}

// Visited accumulates discovered group DNs in discovery order, and
// separately tracks which refs have already been used as search terms.
// The latter is the cycle breaker: a ref is never expanded twice, so
// cyclic graphs terminate regardless of depth. The two sets differ in
// reverse lookups, where the refs fed into the next round are exactly
// the DNs just discovered.
type Visited struct {
	order    []string
	seen     map[string]struct{}
	expanded map[string]struct{}
}

// NewVisited returns an empty accumulator.
func NewVisited() *Visited {
	return &Visited{
		seen:     make(map[string]struct{}),
		expanded: make(map[string]struct{}),
	}
}

// Has reports whether the ref was already recorded, case-insensitively.
func (v *Visited) Has(ref string) bool {
	_, ok := v.seen[strings.ToLower(ref)]
	return ok
}

// Add records a ref; it reports false when the ref was already present.
func (v *Visited) Add(ref string) bool {
	key := strings.ToLower(ref)
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = struct{}{}
	v.order = append(v.order, ref)
	return true
}

// expand marks a ref as used for a search; it reports false when the
// ref was already expanded.
func (v *Visited) expand(ref string) bool {
	key := strings.ToLower(ref)
	if _, ok := v.expanded[key]; ok {
		return false
	}
	v.expanded[key] = struct{}{}
	return true
}

// DNs returns the recorded group DNs in discovery order.
func (v *Visited) DNs() []string {
	return append([]string(nil), v.order...)
}

// Len returns the number of recorded groups.
func (v *Visited) Len() int { return len(v.order) }

// Searcher is the directory surface group resolution needs.
type Searcher interface {
	Search(ctx context.Context, base, filter string, attrs []string) (*directory.ResultSet, error)
}

// Resolver expands group references into the transitive set of group
// DNs an identity belongs to.
type Resolver struct {
	client Searcher
	base   string
	logger logging.Logger
}

// NewResolver creates a resolver searching under the given base. A nil
// logger is replaced with a no-op one.
func NewResolver(client Searcher, base string, logger logging.Logger) *Resolver {
	return &Resolver{
		client: client,
		base:   base,
		logger: logging.OrNop(logger),
	}
}

// Forward resolves groups stored on the identity itself: refs are the
// identity's membership attribute values, filterAttr is the
// DN-style attribute groups carry, and storageAttr is the membership
// attribute read off each group hit for nested expansion.
func (r *Resolver) Forward(ctx context.Context, refs []string, depth Depth, storageAttr, filterAttr string) ([]string, error) {
	visited := NewVisited()
	if err := r.ResolveInto(ctx, refs, depth, storageAttr, filterAttr, visited); err != nil {
		return nil, err
	}
	return visited.DNs(), nil
}

// Reverse resolves groups that carry a member list: refs start as the
// identity's own DN, memberAttr is the group-side member attribute,
// and each hit's own DN feeds the next expansion round.
func (r *Resolver) Reverse(ctx context.Context, refs []string, depth Depth, memberAttr string) ([]string, error) {
	visited := NewVisited()
	if err := r.ResolveInto(ctx, refs, depth, DNAttr, memberAttr, visited); err != nil {
		return nil, err
	}
	return visited.DNs(), nil
}

// ResolveInto runs one expansion round and recurses on the discovered
// frontier. The caller seeds visited (normally empty); it grows by
// reference and is the sole termination guarantee for cyclic graphs,
// independent of depth.
func (r *Resolver) ResolveInto(ctx context.Context, refs []string, depth Depth, storageAttr, filterAttr string, visited *Visited) error {
	filter := frontierFilter(refs, filterAttr, visited)
	if filter == "" {
		return nil
	}

	rs, err := r.client.Search(ctx, r.base, filter, []string{storageAttr})
	if err != nil {
		return err
	}

	var frontier []string
	for i := 0; i < rs.Len(); i++ {
		entry := rs.Entry(i)
		if !visited.Add(entry.DN) {
			continue
		}
		if strings.EqualFold(storageAttr, DNAttr) {
			frontier = append(frontier, entry.DN)
			continue
		}
		frontier = append(frontier, entry.Values(storageAttr)...)
	}

	if len(frontier) == 0 {
		return nil
	}

	next, ok := depth.next()
	if !ok {
		r.logger.Debug("group recursion depth exhausted", map[string]any{
			"frontier": len(frontier),
			"resolved": visited.Len(),
		})
		return nil
	}

	return r.ResolveInto(ctx, frontier, next, storageAttr, filterAttr, visited)
}

// frontierFilter ORs one equality term per not-yet-expanded ref,
// marking each as expanded. A fully-cyclic frontier produces no filter
// at all and recursion bottoms out.
func frontierFilter(refs []string, filterAttr string, visited *Visited) string {
	var terms []string

	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || !visited.expand(ref) {
			continue
		}
		terms = append(terms, "("+filterAttr+"="+directory.EscapeFilterValue(ref)+")")
	}

	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	default:
		return "(|" + strings.Join(terms, "") + ")"
	}
}
