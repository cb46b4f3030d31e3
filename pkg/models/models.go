package models

import (
	"time"
)

// RuleKind discriminates the access-condition variants a policy may carry.
type RuleKind string

const (
	RuleEmail        RuleKind = "email"
	RuleEmailDomain  RuleKind = "email_domain"
	RuleGroup        RuleKind = "group"
	RuleCountry      RuleKind = "country"
	RuleIP           RuleKind = "ip"
	RuleServiceToken RuleKind = "service_token"
)

type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionDeny  RuleAction = "deny"
)

// Rule is one access condition. Value semantics depend on Kind.
type Rule struct {
	Kind   RuleKind   `json:"kind"`
	Value  string     `json:"value"`
	Action RuleAction `json:"action,omitempty"`
}

// EffectiveAction resolves the allow default for rules submitted without one.
func (r Rule) EffectiveAction() RuleAction {
	if r.Action == "" {
		return ActionAllow
	}
	return r.Action
}

// Policy statuses. A record starts pending and every reconciliation attempt
// lands it on active or inactive; there is no way back to pending.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Policy is the desired access state for one (domain, path) pair in a tenant.
// RemoteObjectID is the single source of truth for create-vs-update branching:
// empty means the remote provider has never accepted this policy.
type Policy struct {
	ID              string    `json:"id"`
	ExternalID      string    `json:"external_id"`
	TenantID        string    `json:"tenant_id"`
	ZoneRef         string    `json:"zone_ref"`
	RemoteObjectID  string    `json:"remote_object_id,omitempty"`
	Name            string    `json:"name"`
	Domain          string    `json:"domain"`
	Path            string    `json:"path"`
	SessionDuration string    `json:"session_duration"`
	RequireMFA      bool      `json:"require_mfa"`
	Rules           []Rule    `json:"rules"`
	Status          string    `json:"status"`
	CreatedBy       string    `json:"created_by"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultSessionDuration is applied when a caller leaves the field empty.
const DefaultSessionDuration = "24h"

// DesiredConfig is the caller-submitted desired state for one policy,
// as used by upsert/check/bulk create.
type DesiredConfig struct {
	Name            string `json:"name"`
	ZoneRef         string `json:"zone_ref"`
	Domain          string `json:"domain"`
	Path            string `json:"path"`
	SessionDuration string `json:"session_duration,omitempty"`
	RequireMFA      bool   `json:"require_mfa"`
	Rules           []Rule `json:"rules"`
}

// Normalize applies the documented defaults in place.
func (d *DesiredConfig) Normalize() {
	if d.Path == "" {
		d.Path = "/"
	}
	if d.SessionDuration == "" {
		d.SessionDuration = DefaultSessionDuration
	}
}

// FieldChange records one tracked field that differs between an existing
// policy and a desired configuration.
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

type ChangeSet struct {
	Fields []FieldChange `json:"fields"`
}

func (c ChangeSet) HasChanges() bool { return len(c.Fields) > 0 }

// Zone is a DNS zone the provider manages applications under.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
