package translate

import (
	"encoding/json"
	"testing"

	"aegis/pkg/models"
)

func TestTranslateGroupsByAction(t *testing.T) {
	p := models.Policy{
		Name:            "intranet",
		Domain:          "app.example.com",
		Path:            "/",
		SessionDuration: "24h",
		Rules: []models.Rule{
			{Kind: models.RuleEmailDomain, Value: "example.com"},
			{Kind: models.RuleEmail, Value: "contractor@other.com", Action: models.ActionDeny},
			{Kind: models.RuleCountry, Value: "DE"},
		},
	}
	payload, err := Translate(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Name != "intranet" || payload.Domain != "app.example.com" {
		t.Fatalf("unexpected header fields: %+v", payload)
	}
	if payload.SessionDuration != "24h" {
		t.Fatalf("session duration dropped: %+v", payload)
	}
	if len(payload.Include) != 2 {
		t.Fatalf("expected 2 include entries, got %d", len(payload.Include))
	}
	if payload.Include[0].EmailDomain == nil || payload.Include[0].EmailDomain.Domain != "example.com" {
		t.Fatalf("unexpected first include: %+v", payload.Include[0])
	}
	if payload.Include[1].Geo == nil || payload.Include[1].Geo.CountryCode != "DE" {
		t.Fatalf("unexpected second include: %+v", payload.Include[1])
	}
	if len(payload.Exclude) != 1 || payload.Exclude[0].Email == nil {
		t.Fatalf("deny rule must land in exclude: %+v", payload.Exclude)
	}
	if len(payload.Require) != 0 {
		t.Fatalf("no require clause without mfa: %+v", payload.Require)
	}
}

func TestTranslateRequireMFA(t *testing.T) {
	p := models.Policy{
		Name:       "admin",
		Domain:     "admin.example.com",
		RequireMFA: true,
		Rules:      []models.Rule{{Kind: models.RuleEmail, Value: "a@x.com"}},
	}
	payload, err := Translate(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload.Require) != 1 || payload.Require[0].MFA == nil || payload.Require[0].MFA.AuthMethod != "mfa" {
		t.Fatalf("expected mfa require clause, got %+v", payload.Require)
	}
}

func TestTranslatePathJoin(t *testing.T) {
	p := models.Policy{Domain: "app.example.com", Path: "/admin"}
	payload, err := Translate(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Domain != "app.example.com/admin" {
		t.Fatalf("expected path appended, got %q", payload.Domain)
	}
}

func TestTranslateUnknownKind(t *testing.T) {
	p := models.Policy{Rules: []models.Rule{{Kind: "badge", Value: "x"}}}
	if _, err := Translate(p); err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}

func TestTranslateDeterministic(t *testing.T) {
	p := models.Policy{
		Domain: "app.example.com",
		Rules: []models.Rule{
			{Kind: models.RuleEmail, Value: "a@x.com"},
			{Kind: models.RuleIP, Value: "10.0.0.0/8"},
		},
	}
	first, err := Translate(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := Translate(p)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("translation must be deterministic:\n%s\n%s", a, b)
	}
}
