package models

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("validation failed")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateRule checks the per-kind value syntax. It never touches the network.
func ValidateRule(r Rule) error {
	value := strings.TrimSpace(r.Value)
	if value == "" {
		return validationErrorf("rule %s: value required", r.Kind)
	}
	switch r.EffectiveAction() {
	case ActionAllow, ActionDeny:
	default:
		return validationErrorf("rule %s: unknown action %q", r.Kind, r.Action)
	}
	switch r.Kind {
	case RuleEmail:
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return validationErrorf("rule email: %q is not a valid address", r.Value)
		}
	case RuleEmailDomain:
		if !isDNSName(value) {
			return validationErrorf("rule email_domain: %q is not a valid domain", r.Value)
		}
	case RuleGroup, RuleServiceToken:
		if _, err := uuid.Parse(value); err != nil {
			return validationErrorf("rule %s: %q is not a valid identifier", r.Kind, r.Value)
		}
	case RuleCountry:
		if len(value) != 2 || strings.ToUpper(value) != value || !isAlpha(value) {
			return validationErrorf("rule country: %q is not an ISO alpha-2 code", r.Value)
		}
	case RuleIP:
		if net.ParseIP(value) == nil {
			if _, _, err := net.ParseCIDR(value); err != nil {
				return validationErrorf("rule ip: %q is not an IP or CIDR range", r.Value)
			}
		}
	default:
		return validationErrorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

// ValidateRules rejects the first malformed rule. An empty collection is
// allowed locally; the remote provider decides whether it accepts one.
func ValidateRules(rules []Rule) error {
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDesiredConfig checks the fields a caller submits before any
// persistence or remote call happens.
func ValidateDesiredConfig(d DesiredConfig) error {
	if strings.TrimSpace(d.Name) == "" {
		return validationErrorf("name required")
	}
	if strings.TrimSpace(d.ZoneRef) == "" {
		return validationErrorf("zone_ref required")
	}
	if !isDNSName(strings.TrimSpace(d.Domain)) {
		return validationErrorf("domain %q is not a valid DNS name", d.Domain)
	}
	if d.Path != "" && !strings.HasPrefix(d.Path, "/") {
		return validationErrorf("path must start with /")
	}
	if len(d.Rules) == 0 {
		return validationErrorf("at least one rule required")
	}
	return ValidateRules(d.Rules)
}

func isDNSName(s string) bool {
	if s == "" || len(s) > 253 || strings.Contains(s, "..") {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(s, "."), ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func isAlpha(s string) bool {
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
