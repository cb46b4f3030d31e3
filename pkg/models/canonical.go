package models

import "sort"

// CanonicalRules returns a sorted copy of rules ordered by (kind, value,
// action). Insertion order carries no meaning, so every comparison of two
// rule collections goes through this form first. Duplicates are preserved:
// the same rule submitted twice stays twice, and comparison treats that as a
// real difference.
func CanonicalRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		r.Action = r.EffectiveAction()
		out[i] = r
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// RulesEqual reports multiset equality of two rule collections after
// canonicalization.
func RulesEqual(a, b []Rule) bool {
	if len(a) != len(b) {
		return false
	}
	ca := CanonicalRules(a)
	cb := CanonicalRules(b)
	for i := range ca {
		if ca[i] != cb[i] {
			return false
		}
	}
	return true
}
