// Package reconcile drives a policy record from its local desired state to
// the state implied by the remote provider's acceptance or rejection of it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"aegis/pkg/audit"
	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/policyfsm"
	"aegis/pkg/provider"
	"aegis/pkg/store"
	"aegis/pkg/translate"
)

// ErrInterrupted marks a sync whose remote outcome is unknown because the
// caller's context was cancelled mid-call. No status transition is recorded.
var ErrInterrupted = errors.New("sync interrupted before outcome was known")

// ProviderAPI is the slice of the provider client the reconciler needs.
type ProviderAPI interface {
	CreateApplication(ctx context.Context, zoneRef string, payload provider.AppPayload) (string, error)
	UpdateApplication(ctx context.Context, zoneRef, remoteID string, payload provider.AppPayload) error
	DeleteApplication(ctx context.Context, zoneRef, remoteID string) error
}

type Reconciler struct {
	Store    store.PolicyStore
	Provider ProviderAPI
	Audit    audit.Sink
	Metrics  *metrics.Registry
}

// Sync pushes one policy to the remote provider and records the outcome.
// The returned error does not mean nothing changed: a remote failure still
// persists the inactive status and emits an audit event before propagating.
// Callers must serialize concurrent Sync calls on the same policy.
func (r *Reconciler) Sync(ctx context.Context, p *models.Policy) error {
	if err := models.ValidateRules(p.Rules); err != nil {
		return err
	}
	payload, err := translate.Translate(*p)
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}

	action := audit.ActionUpdated
	var callErr error
	if p.RemoteObjectID == "" {
		action = audit.ActionCreated
		r.Metrics.IncProviderCall("create_application")
		remoteID, err := r.Provider.CreateApplication(ctx, p.ZoneRef, payload)
		if err == nil {
			p.RemoteObjectID = remoteID
		}
		callErr = err
	} else {
		r.Metrics.IncProviderCall("update_application")
		callErr = r.Provider.UpdateApplication(ctx, p.ZoneRef, p.RemoteObjectID, payload)
	}

	if callErr != nil && ctx.Err() != nil {
		// Outcome unknown: leave status and remote id exactly as they were.
		r.record(ctx, *p, action, false, "interrupted: "+callErr.Error())
		return fmt.Errorf("%w: %s", ErrInterrupted, callErr.Error())
	}

	detail := ""
	event := policyfsm.EventSyncSucceeded
	if callErr != nil {
		event = policyfsm.EventSyncFailed
		detail = callErr.Error()
	}
	next, err := policyfsm.Next(p.Status, event)
	if err != nil {
		return fmt.Errorf("policy %s in status %q: %w", p.ID, p.Status, err)
	}
	p.Status = next

	if err := r.Store.UpdateSyncState(ctx, p.ID, p.RemoteObjectID, p.Status, p.UpdatedBy); err != nil {
		r.record(ctx, *p, action, false, "persist sync state: "+err.Error())
		if callErr != nil {
			return callErr
		}
		return err
	}

	r.Metrics.IncSyncOutcome(callErr == nil)
	r.record(ctx, *p, action, callErr == nil, detail)
	return callErr
}

// Delete removes the remote object first and only then permits local
// removal. A remote not-found counts as success: the desired end state
// already holds. Any other remote failure leaves the record untouched,
// because losing track of a live remote object is worse than keeping a
// stale local record a later sync can reconcile.
func (r *Reconciler) Delete(ctx context.Context, p *models.Policy, actor string) error {
	if p.RemoteObjectID != "" {
		r.Metrics.IncProviderCall("delete_application")
		err := r.Provider.DeleteApplication(ctx, p.ZoneRef, p.RemoteObjectID)
		if err != nil && !provider.IsNotFound(err) {
			r.Metrics.IncDeleteOutcome(false)
			r.recordEvent(ctx, audit.NewEvent(p.TenantID, actor, audit.ActionDeleted, p.ExternalID, false, err.Error()))
			return err
		}
	}
	if err := r.Store.Delete(ctx, p.ID); err != nil {
		r.Metrics.IncDeleteOutcome(false)
		r.recordEvent(ctx, audit.NewEvent(p.TenantID, actor, audit.ActionDeleted, p.ExternalID, false, "remove local record: "+err.Error()))
		return err
	}
	r.Metrics.IncDeleteOutcome(true)
	r.recordEvent(ctx, audit.NewEvent(p.TenantID, actor, audit.ActionDeleted, p.ExternalID, true, ""))
	return nil
}

func (r *Reconciler) record(ctx context.Context, p models.Policy, action string, success bool, detail string) {
	actor := p.UpdatedBy
	if actor == "" {
		actor = p.CreatedBy
	}
	r.recordEvent(ctx, audit.NewEvent(p.TenantID, actor, action, p.ExternalID, success, detail))
}

// recordEvent is fire-and-forget: a sink failure never fails reconciliation.
func (r *Reconciler) recordEvent(ctx context.Context, evt audit.Event) {
	if r.Audit == nil {
		return
	}
	if err := r.Audit.Record(ctx, evt); err != nil {
		log.Printf("audit record failed for %s/%s: %v", evt.Tenant, evt.EntityID, err)
	}
}
