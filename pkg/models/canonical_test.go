package models

import "testing"

func TestCanonicalRulesOrderIndependent(t *testing.T) {
	a := []Rule{
		{Kind: RuleEmailDomain, Value: "x.com"},
		{Kind: RuleEmail, Value: "a@x.com"},
	}
	b := []Rule{
		{Kind: RuleEmail, Value: "a@x.com"},
		{Kind: RuleEmailDomain, Value: "x.com"},
	}
	if !RulesEqual(a, b) {
		t.Fatalf("expected reversed rule collections to be equal")
	}
}

func TestCanonicalRulesDefaultsAction(t *testing.T) {
	canon := CanonicalRules([]Rule{{Kind: RuleEmail, Value: "a@x.com"}})
	if canon[0].Action != ActionAllow {
		t.Fatalf("expected default allow action, got %q", canon[0].Action)
	}
}

func TestCanonicalRulesDoesNotMutateInput(t *testing.T) {
	in := []Rule{
		{Kind: RuleEmailDomain, Value: "x.com"},
		{Kind: RuleEmail, Value: "a@x.com"},
	}
	_ = CanonicalRules(in)
	if in[0].Kind != RuleEmailDomain {
		t.Fatalf("input slice was reordered")
	}
	if in[0].Action != "" {
		t.Fatalf("input rule was mutated")
	}
}

func TestRulesEqualDuplicatesSignificant(t *testing.T) {
	existing := []Rule{{Kind: RuleEmail, Value: "a@x.com"}}
	desired := []Rule{
		{Kind: RuleEmail, Value: "a@x.com"},
		{Kind: RuleEmail, Value: "a@x.com"},
	}
	if RulesEqual(existing, desired) {
		t.Fatalf("duplicate rule must count as a difference")
	}
}

func TestRulesEqualActionMatters(t *testing.T) {
	a := []Rule{{Kind: RuleIP, Value: "10.0.0.0/8", Action: ActionAllow}}
	b := []Rule{{Kind: RuleIP, Value: "10.0.0.0/8", Action: ActionDeny}}
	if RulesEqual(a, b) {
		t.Fatalf("allow and deny rules must differ")
	}
}
