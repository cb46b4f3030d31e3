package diff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/reconcile"
	"aegis/pkg/store"
)

// Action is the outcome of an upsert decision. Check reports the action an
// upsert with the same input would take.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// CheckResult is the dry-run answer for one desired configuration.
type CheckResult struct {
	Exists  bool             `json:"exists"`
	Changes models.ChangeSet `json:"changes"`
	Action  Action           `json:"action"`
}

// ItemError ties a bulk-apply failure back to its input position.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Engine decides between create, update and skip for desired configurations.
// The schema carries no uniqueness constraint on (domain, path), so this is
// the only place duplicate policies are prevented.
type Engine struct {
	Store      store.PolicyStore
	Reconciler *reconcile.Reconciler
	Metrics    *metrics.Registry
}

// Lookup resolves the tenant's policy for a natural key. A missing policy is
// not an error; the second return value reports whether one was found.
func (e *Engine) Lookup(ctx context.Context, tenantID, domain, path string) (models.Policy, bool, error) {
	p, err := e.Store.FindByNaturalKey(ctx, tenantID, domain, path)
	if errors.Is(err, store.ErrNotFound) {
		return models.Policy{}, false, nil
	}
	if err != nil {
		return models.Policy{}, false, err
	}
	return p, true, nil
}

// Diff compares an existing policy against a desired configuration over the
// tracked fields. Rules are compared canonically, so rule order never counts
// as a change while duplicate entries do.
func (e *Engine) Diff(existing models.Policy, desired models.DesiredConfig) models.ChangeSet {
	var cs models.ChangeSet
	if existing.Name != desired.Name {
		cs.Fields = append(cs.Fields, models.FieldChange{Field: "name", From: existing.Name, To: desired.Name})
	}
	if existing.SessionDuration != desired.SessionDuration {
		cs.Fields = append(cs.Fields, models.FieldChange{Field: "session_duration", From: existing.SessionDuration, To: desired.SessionDuration})
	}
	if existing.RequireMFA != desired.RequireMFA {
		cs.Fields = append(cs.Fields, models.FieldChange{Field: "require_mfa", From: existing.RequireMFA, To: desired.RequireMFA})
	}
	if !models.RulesEqual(existing.Rules, desired.Rules) {
		cs.Fields = append(cs.Fields, models.FieldChange{
			Field: "rules",
			From:  models.CanonicalRules(existing.Rules),
			To:    models.CanonicalRules(desired.Rules),
		})
	}
	return cs
}

// Upsert creates the policy when no record matches the natural key, updates
// it when the diff is non-empty, and otherwise skips. A skip touches neither
// the database nor the provider. Create and update both run a sync; the
// policy reflects the sync outcome and a sync failure is returned alongside
// the persisted record.
func (e *Engine) Upsert(ctx context.Context, tenantID string, desired models.DesiredConfig, actor string) (models.Policy, Action, error) {
	desired.Normalize()
	if err := models.ValidateDesiredConfig(desired); err != nil {
		return models.Policy{}, "", err
	}

	existing, found, err := e.Lookup(ctx, tenantID, desired.Domain, desired.Path)
	if err != nil {
		return models.Policy{}, "", err
	}
	if found && desired.ZoneRef != existing.ZoneRef {
		return models.Policy{}, "", zoneMismatchError(existing, desired)
	}

	if !found {
		p := newPolicy(tenantID, desired, actor)
		if err := e.Store.Create(ctx, &p); err != nil {
			return models.Policy{}, "", fmt.Errorf("create policy: %w", err)
		}
		e.Metrics.IncUpsertAction(string(ActionCreated))
		syncErr := e.Reconciler.Sync(ctx, &p)
		return p, ActionCreated, syncErr
	}

	cs := e.Diff(existing, desired)
	if !cs.HasChanges() {
		// A skip is deliberately silent: no store write, no remote call,
		// no audit event, so pipelines can apply on every run.
		e.Metrics.IncUpsertAction(string(ActionSkipped))
		return existing, ActionSkipped, nil
	}

	existing.Name = desired.Name
	existing.SessionDuration = desired.SessionDuration
	existing.RequireMFA = desired.RequireMFA
	existing.Rules = append([]models.Rule(nil), desired.Rules...)
	existing.UpdatedBy = actor
	if err := e.Store.Update(ctx, &existing); err != nil {
		return models.Policy{}, "", fmt.Errorf("update policy: %w", err)
	}
	e.Metrics.IncUpsertAction(string(ActionUpdated))
	syncErr := e.Reconciler.Sync(ctx, &existing)
	return existing, ActionUpdated, syncErr
}

// Check is Upsert without side effects.
func (e *Engine) Check(ctx context.Context, tenantID string, desired models.DesiredConfig) (CheckResult, error) {
	desired.Normalize()
	if err := models.ValidateDesiredConfig(desired); err != nil {
		return CheckResult{}, err
	}
	existing, found, err := e.Lookup(ctx, tenantID, desired.Domain, desired.Path)
	if err != nil {
		return CheckResult{}, err
	}
	if !found {
		return CheckResult{Action: ActionCreated}, nil
	}
	if desired.ZoneRef != existing.ZoneRef {
		return CheckResult{}, zoneMismatchError(existing, desired)
	}
	cs := e.Diff(existing, desired)
	res := CheckResult{Exists: true, Changes: cs, Action: ActionSkipped}
	if cs.HasChanges() {
		res.Action = ActionUpdated
	}
	return res, nil
}

// BulkCreate applies every desired configuration independently. Completed
// items stay persisted even when later items fail; the error list is empty
// only when the whole batch succeeded. Configurations matching an existing
// policy are updated or skipped rather than duplicated.
func (e *Engine) BulkCreate(ctx context.Context, tenantID, actor string, desired []models.DesiredConfig) ([]models.Policy, []ItemError) {
	var policies []models.Policy
	var errs []ItemError
	for i, d := range desired {
		p, _, err := e.Upsert(ctx, tenantID, d, actor)
		if err != nil {
			errs = append(errs, ItemError{Index: i, Message: err.Error()})
			continue
		}
		policies = append(policies, p)
	}
	return policies, errs
}

// zoneMismatchError rejects a desired configuration that names a different
// zone than the policy already bound to its (domain, path). The zone binding
// is immutable; delete and recreate to move a policy between zones.
func zoneMismatchError(existing models.Policy, desired models.DesiredConfig) error {
	return fmt.Errorf("%w: zone_ref %q does not match existing policy zone %q; delete the policy to rebind it", models.ErrValidation, desired.ZoneRef, existing.ZoneRef)
}

func newPolicy(tenantID string, desired models.DesiredConfig, actor string) models.Policy {
	return models.Policy{
		ID:              uuid.NewString(),
		ExternalID:      uuid.NewString(),
		TenantID:        tenantID,
		ZoneRef:         desired.ZoneRef,
		Name:            desired.Name,
		Domain:          desired.Domain,
		Path:            desired.Path,
		SessionDuration: desired.SessionDuration,
		RequireMFA:      desired.RequireMFA,
		Rules:           append([]models.Rule(nil), desired.Rules...),
		Status:          models.StatusPending,
		CreatedBy:       actor,
	}
}
