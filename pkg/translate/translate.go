// Package translate maps a local policy onto the provider's request body.
// Translation is pure: no side effects, no network, deterministic output.
package translate

import (
	"fmt"

	"aegis/pkg/models"
	"aegis/pkg/provider"
)

// Translate builds the provider payload for one policy. Allow rules land in
// the include list, deny rules in exclude, and require_mfa adds an mfa clause
// under require. Callers validate rules first; an unknown kind here is a
// programming error surfaced as an error rather than a panic.
func Translate(p models.Policy) (provider.AppPayload, error) {
	payload := provider.AppPayload{
		Name:            p.Name,
		Domain:          appDomain(p),
		SessionDuration: p.SessionDuration,
		Include:         []provider.RuleEntry{},
	}
	for _, rule := range p.Rules {
		entry, err := ruleEntry(rule)
		if err != nil {
			return provider.AppPayload{}, err
		}
		if rule.EffectiveAction() == models.ActionDeny {
			payload.Exclude = append(payload.Exclude, entry)
		} else {
			payload.Include = append(payload.Include, entry)
		}
	}
	if p.RequireMFA {
		payload.Require = append(payload.Require, provider.RuleEntry{
			MFA: &provider.MFARule{AuthMethod: "mfa"},
		})
	}
	return payload, nil
}

func ruleEntry(r models.Rule) (provider.RuleEntry, error) {
	switch r.Kind {
	case models.RuleEmail:
		return provider.RuleEntry{Email: &provider.EmailRule{Email: r.Value}}, nil
	case models.RuleEmailDomain:
		return provider.RuleEntry{EmailDomain: &provider.EmailDomainRule{Domain: r.Value}}, nil
	case models.RuleGroup:
		return provider.RuleEntry{Group: &provider.GroupRule{ID: r.Value}}, nil
	case models.RuleCountry:
		return provider.RuleEntry{Geo: &provider.GeoRule{CountryCode: r.Value}}, nil
	case models.RuleIP:
		return provider.RuleEntry{IP: &provider.IPRule{IP: r.Value}}, nil
	case models.RuleServiceToken:
		return provider.RuleEntry{ServiceToken: &provider.ServiceTokenRule{TokenID: r.Value}}, nil
	default:
		return provider.RuleEntry{}, fmt.Errorf("untranslatable rule kind %q", r.Kind)
	}
}

func appDomain(p models.Policy) string {
	if p.Path == "" || p.Path == "/" {
		return p.Domain
	}
	return p.Domain + p.Path
}
