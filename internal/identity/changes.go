package identity

import (
	"context"
	"strings"
)

// ChangeKind classifies one staged attribute value against the cache.
type ChangeKind int

const (
	// ChangeUnchanged means the staged value equals the cached value.
	ChangeUnchanged ChangeKind = iota
	// ChangeModify means the value exists with different content.
	ChangeModify
	// ChangeCreate means the attribute does not exist yet.
	ChangeCreate
	// ChangeDelete means the staged value requests removal.
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeUnchanged:
		return "unchanged"
	case ChangeModify:
		return "modify"
	case ChangeCreate:
		return "create"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// classifyAt compares one staged value against the cached values at a
// given index. Deleting something that is already absent is Unchanged,
// never a spurious Delete.
func classifyAt(current []string, exists bool, index int, newValue string) ChangeKind {
	switch {
	case !exists:
		if newValue == "" {
			return ChangeUnchanged
		}
		return ChangeCreate
	case index < len(current):
		switch {
		case newValue == "":
			return ChangeDelete
		case current[index] == newValue:
			return ChangeUnchanged
		default:
			return ChangeModify
		}
	default:
		if newValue == "" {
			return ChangeUnchanged
		}
		return ChangeModify
	}
}

// BucketResult records the outcome of one commit bucket.
type BucketResult struct {
	// Attrs lists the attribute names the bucket touched.
	Attrs []string
	// Attempted reports whether the bucket had work to do.
	Attempted bool
	// Err is the directory error, nil on success or when not attempted.
	Err error
}

// CommitResult records the per-bucket outcomes of one commit. Buckets
// run in delete, add, replace order and every non-empty bucket is
// attempted even when an earlier one failed.
type CommitResult struct {
	Deleted  BucketResult
	Added    BucketResult
	Replaced BucketResult
}

// Err returns the first bucket error in execution order, or nil.
func (r *CommitResult) Err() error {
	for _, b := range []*BucketResult{&r.Deleted, &r.Added, &r.Replaced} {
		if b.Err != nil {
			return b.Err
		}
	}
	return nil
}

// commitPlan partitions staged changes into the three modify buckets.
type commitPlan struct {
	deletes  map[string][]string
	adds     map[string][]string
	replaces map[string][]string
}

// CommitChanges writes all staged changes to the directory. The staged
// map is consumed up front, so a failed commit does not replay stale
// values on the next call.
//
// Scalar changes become single adds, deletes or replaces per the
// classifier. A list change where any position differs deletes the
// whole attribute and re-adds the surviving non-empty values in order;
// per-position modifies cannot guarantee value ordering on the server.
// The configured password attribute is hashed with the source's scheme
// and always written as a replace, because servers reject add/delete
// on password-like attributes and the cached server-side hash can
// never compare equal to a cleartext value.
func (id *Identity) CommitChanges(ctx context.Context) (*CommitResult, error) {
	if !id.resolved {
		if _, err := id.Resolve(ctx, false); err != nil {
			return nil, err
		}
	}

	staged := id.pending
	id.pending = make(map[string]Value)
	if len(staged) == 0 {
		return &CommitResult{}, nil
	}

	plan, err := id.planCommit(staged)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{
		Deleted:  id.commitBucket(plan.deletes, id.client.DeleteAttributes),
		Added:    id.commitBucket(plan.adds, id.client.AddAttributes),
		Replaced: id.commitBucket(plan.replaces, id.client.ReplaceAttributes),
	}

	id.mergeCommitted(plan.deletes, result.Deleted, true)
	id.mergeCommitted(plan.adds, result.Added, false)
	id.mergeCommitted(plan.replaces, result.Replaced, false)

	id.resolver.logger.Info("attribute changes committed", map[string]any{
		"attempt_id": id.attemptID,
		"dn":         id.dn,
		"deleted":    len(plan.deletes),
		"added":      len(plan.adds),
		"replaced":   len(plan.replaces),
		"error":      errString(result.Err()),
	})

	if err := result.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (id *Identity) planCommit(staged map[string]Value) (*commitPlan, error) {
	plan := &commitPlan{
		deletes:  make(map[string][]string),
		adds:     make(map[string][]string),
		replaces: make(map[string][]string),
	}

	passwordAttr := strings.ToLower(id.cfg.PasswordAttribute)

	for key, v := range staged {
		if key == passwordAttr {
			hashed, err := hashPassword(id.cfg.PasswordScheme, v.First())
			if err != nil {
				return nil, err
			}
			plan.replaces[key] = []string{hashed}
			continue
		}

		current, exists := id.cache[key]

		if v.IsList() {
			id.planList(plan, key, current, exists, v.Values())
			continue
		}

		switch classifyAt(current, exists, 0, v.First()) {
		case ChangeUnchanged:
		case ChangeDelete:
			// No values means remove the attribute entirely.
			plan.deletes[key] = nil
		case ChangeCreate:
			plan.adds[key] = []string{v.First()}
		case ChangeModify:
			plan.replaces[key] = []string{v.First()}
		}
	}

	return plan, nil
}

// planList stages a list change. Any changed position forces a
// whole-attribute rewrite.
func (id *Identity) planList(plan *commitPlan, key string, current []string, exists bool, newValues []string) {
	length := len(newValues)
	if len(current) > length {
		length = len(current)
	}

	changed := false
	for i := 0; i < length; i++ {
		nv := ""
		if i < len(newValues) {
			nv = newValues[i]
		}
		if classifyAt(current, exists, i, nv) != ChangeUnchanged {
			changed = true
			break
		}
	}
	if !changed {
		return
	}

	surviving := make([]string, 0, len(newValues))
	for _, nv := range newValues {
		if nv != "" {
			surviving = append(surviving, nv)
		}
	}

	if exists {
		plan.deletes[key] = nil
	}
	if len(surviving) > 0 {
		plan.adds[key] = surviving
	}
}

// commitBucket runs one bucket through the given modify operation.
func (id *Identity) commitBucket(attrs map[string][]string, op func(string, map[string][]string) error) BucketResult {
	if len(attrs) == 0 {
		return BucketResult{}
	}

	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}

	return BucketResult{
		Attrs:     names,
		Attempted: true,
		Err:       op(id.dn, attrs),
	}
}

// mergeCommitted folds a successful bucket back into the cache so
// subsequent reads see the committed state without a refetch.
func (id *Identity) mergeCommitted(attrs map[string][]string, res BucketResult, deletion bool) {
	if !res.Attempted || res.Err != nil {
		return
	}

	for key, values := range attrs {
		lk := strings.ToLower(key)
		if deletion {
			delete(id.cache, lk)
			id.nulls[lk] = struct{}{}
			continue
		}
		id.put(key, values)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
