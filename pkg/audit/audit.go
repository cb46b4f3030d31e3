// Package audit records one event per reconciliation attempt. Sinks are
// fire-and-forget from the core's perspective: a sink failure is logged by
// the caller, never propagated into the reconciliation result.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const EntityPolicy = "Policy"

// Actions recorded on audit events.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

type Event struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewEvent fills the invariant fields of a policy audit event.
func NewEvent(tenant, actor, action, entityID string, success bool, detail string) Event {
	return Event{
		ID:         uuid.New().String(),
		Tenant:     tenant,
		Actor:      actor,
		Action:     action,
		EntityType: EntityPolicy,
		EntityID:   entityID,
		Success:    success,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}

// Sink receives structured events for external persistence.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }

// MultiSink fans one event out to every sink. All sinks are attempted; the
// first error is returned so the caller can log it.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, evt Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Writer persists events to Postgres.
type Writer struct {
	DB auditDB
}

func (w *Writer) Record(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_records
		(id, tenant, actor, action, entity_type, entity_id, success, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, evt.ID, evt.Tenant, evt.Actor, evt.Action, evt.EntityType, evt.EntityID, evt.Success, evt.Detail, evt.CreatedAt)
	return err
}

// List returns a tenant's events, newest first, optionally filtered by entity.
func (w *Writer) List(ctx context.Context, tenant, entityID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, tenant, actor, action, entity_type, entity_id, success, detail, created_at
		FROM audit_records WHERE tenant=$1`
	args := []any{tenant}
	if entityID != "" {
		query += ` AND entity_id=$2`
		args = append(args, entityID)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)
	rows, err := w.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Tenant, &evt.Actor, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.Success, &evt.Detail, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
