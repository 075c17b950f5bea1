package groups

import (
	"strings"

	"github.com/isometry/dirsync/internal/directory"
)

// Rule maps a directory group selector to the local authorization
// groups its members should hold.
type Rule struct {
	// Selector identifies the directory group, either as a DN (RDN
	// matching) or as an opaque string (exact matching).
	Selector string `mapstructure:"selector"`

	// TargetGroups are the local group ids granted by this rule.
	TargetGroups []string `mapstructure:"target_groups"`
}

// ManageMode selects how the set of locally managed groups is derived.
type ManageMode string

const (
	// ManageAll manages every known local group except the unmanaged
	// list.
	ManageAll ManageMode = "all"
	// ManageRuleTargets manages only groups some rule grants, except
	// the unmanaged list.
	ManageRuleTargets ManageMode = "rule_targets"
)

// Policy is the full mapping configuration: the rules plus the
// parameters deriving the managed-group set and the safety fallback.
type Policy struct {
	Rules []Rule `mapstructure:"rules"`

	// ValidateDN enables RDN-prefix matching. When false, selectors
	// compare as trimmed, case-folded strings.
	ValidateDN bool `mapstructure:"validate_dn"`

	Mode ManageMode `mapstructure:"mode" default:"rule_targets"`

	// KnownGroups enumerates every local group id, required by
	// ManageAll mode.
	KnownGroups []string `mapstructure:"known_groups"`

	// UnmanagedGroups are never added or removed automatically.
	UnmanagedGroups []string `mapstructure:"unmanaged_groups"`

	// FallbackGroup is granted whenever a delta would otherwise leave
	// the identity with no groups at all.
	FallbackGroup string `mapstructure:"fallback_group"`
}

// Delta is the computed local group membership change.
type Delta struct {
	ToAdd    []string
	ToRemove []string
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Matches reports whether the rule selects the candidate group ref.
//
// With validateDN, both sides explode into ordered RDN lists and the
// rule matches iff its RDNs are a leftmost prefix of the candidate's:
// selector "cn=admins,ou=people" matches
// "cn=admins,ou=people,dc=example,dc=com" but not a candidate whose
// leading RDNs differ. A malformed DN on either side is a non-match,
// never an error. Without validateDN, comparison is trimmed,
// case-insensitive string equality.
func (r Rule) Matches(candidate string, validateDN bool) bool {
	if !validateDN {
		return strings.EqualFold(strings.TrimSpace(r.Selector), strings.TrimSpace(candidate))
	}

	ruleRDNs, err := directory.ExplodeDN(r.Selector)
	if err != nil {
		return false
	}
	candRDNs, err := directory.ExplodeDN(candidate)
	if err != nil {
		return false
	}

	if len(ruleRDNs) == 0 || len(ruleRDNs) > len(candRDNs) {
		return false
	}
	for i, rdn := range ruleRDNs {
		if rdn != candRDNs[i] {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any of the identity's group refs satisfies
// the rule.
func (r Rule) MatchesAny(refs []string, validateDN bool) bool {
	for _, ref := range refs {
		if r.Matches(ref, validateDN) {
			return true
		}
	}
	return false
}

// ManagedGroups derives the set of local group ids the engine is
// allowed to remove automatically.
func (p *Policy) ManagedGroups() map[string]struct{} {
	managed := make(map[string]struct{})

	switch p.Mode {
	case ManageAll:
		for _, g := range p.KnownGroups {
			managed[g] = struct{}{}
		}
	default:
		for _, rule := range p.Rules {
			for _, g := range rule.TargetGroups {
				managed[g] = struct{}{}
			}
		}
	}

	for _, g := range p.UnmanagedGroups {
		delete(managed, g)
	}
	return managed
}

// ComputeDelta compares the identity's directory group refs against its
// current local groups and returns the additions and removals needed
// to converge. Only managed groups are ever removed. If applying the
// delta would leave the identity with zero groups, the fallback group
// is injected (or spared from removal) so no identity ever ends up
// group-less.
func (p *Policy) ComputeDelta(groupRefs, currentGroups []string) Delta {
	should := make(map[string]struct{})
	var shouldOrder []string
	for _, rule := range p.Rules {
		if !rule.MatchesAny(groupRefs, p.ValidateDN) {
			continue
		}
		for _, g := range rule.TargetGroups {
			if _, ok := should[g]; !ok {
				should[g] = struct{}{}
				shouldOrder = append(shouldOrder, g)
			}
		}
	}

	current := make(map[string]struct{}, len(currentGroups))
	for _, g := range currentGroups {
		current[g] = struct{}{}
	}

	managed := p.ManagedGroups()

	var delta Delta
	for _, g := range shouldOrder {
		if _, ok := current[g]; !ok {
			delta.ToAdd = append(delta.ToAdd, g)
		}
	}
	for _, g := range currentGroups {
		if _, ok := managed[g]; !ok {
			continue
		}
		if _, ok := should[g]; !ok {
			delta.ToRemove = append(delta.ToRemove, g)
		}
	}

	if p.FallbackGroup != "" && p.resultEmpty(currentGroups, delta) {
		if idx := indexOf(delta.ToRemove, p.FallbackGroup); idx >= 0 {
			delta.ToRemove = append(delta.ToRemove[:idx], delta.ToRemove[idx+1:]...)
		} else {
			delta.ToAdd = append(delta.ToAdd, p.FallbackGroup)
		}
	}

	return delta
}

// resultEmpty reports whether applying the delta leaves no groups.
func (p *Policy) resultEmpty(currentGroups []string, delta Delta) bool {
	if len(delta.ToAdd) > 0 {
		return false
	}

	removing := make(map[string]struct{}, len(delta.ToRemove))
	for _, g := range delta.ToRemove {
		removing[g] = struct{}{}
	}
	for _, g := range currentGroups {
		if _, ok := removing[g]; !ok {
			return false
		}
	}
	return true
}

func indexOf(list []string, want string) int {
	for i, g := range list {
		if g == want {
			return i
		}
	}
	return -1
}
