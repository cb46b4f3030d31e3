package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/models"
)

// ErrNotFound covers both a genuinely missing record and a cross-tenant
// lookup: a policy owned by another tenant is reported as absent, never
// as forbidden.
var ErrNotFound = errors.New("policy not found")

// PolicyStore is the persistence contract the reconciliation core depends on.
// The (domain, path) natural key is deliberately NOT unique at the storage
// layer; the diff engine is the sole gatekeeper against duplicates.
type PolicyStore interface {
	Create(ctx context.Context, p *models.Policy) error
	Update(ctx context.Context, p *models.Policy) error
	UpdateSyncState(ctx context.Context, id, remoteObjectID, status, updatedBy string) error
	Delete(ctx context.Context, id string) error
	GetByExternalID(ctx context.Context, tenantID, externalID string) (models.Policy, error)
	FindByNaturalKey(ctx context.Context, tenantID, domain, path string) (models.Policy, error)
	List(ctx context.Context, tenantID string) ([]models.Policy, error)
}

type policyDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresPolicies implements PolicyStore on pgx. Rules are stored as JSONB
// in submission order.
type PostgresPolicies struct {
	DB policyDB
}

const policyColumns = `id, external_id, tenant_id, zone_ref, COALESCE(remote_object_id,''), name, domain, path,
	session_duration, require_mfa, rules, status, created_by, COALESCE(updated_by,''), created_at, updated_at`

func (s *PostgresPolicies) Create(ctx context.Context, p *models.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err = s.DB.Exec(ctx, `
		INSERT INTO policies
		(id, external_id, tenant_id, zone_ref, name, domain, path, session_duration, require_mfa, rules, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, p.ID, p.ExternalID, p.TenantID, p.ZoneRef, p.Name, p.Domain, p.Path, p.SessionDuration, p.RequireMFA, rules, p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresPolicies) Update(ctx context.Context, p *models.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.DB.Exec(ctx, `
		UPDATE policies
		SET name=$2, session_duration=$3, require_mfa=$4, rules=$5, updated_by=$6, updated_at=$7
		WHERE id=$1
	`, p.ID, p.Name, p.SessionDuration, p.RequireMFA, rules, p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresPolicies) UpdateSyncState(ctx context.Context, id, remoteObjectID, status, updatedBy string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE policies
		SET remote_object_id=NULLIF($2,''), status=$3, updated_by=$4, updated_at=now()
		WHERE id=$1
	`, id, remoteObjectID, status, updatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresPolicies) Delete(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM policies WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresPolicies) GetByExternalID(ctx context.Context, tenantID, externalID string) (models.Policy, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE tenant_id=$1 AND external_id=$2
	`, tenantID, externalID)
	return scanPolicy(row)
}

// FindByNaturalKey returns the oldest policy matching (domain, path) inside
// the tenant, so repeated upserts converge on one record even when duplicates
// exist.
func (s *PostgresPolicies) FindByNaturalKey(ctx context.Context, tenantID, domain, path string) (models.Policy, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE tenant_id=$1 AND domain=$2 AND path=$3
		ORDER BY created_at ASC LIMIT 1
	`, tenantID, domain, path)
	return scanPolicy(row)
}

func (s *PostgresPolicies) List(ctx context.Context, tenantID string) ([]models.Policy, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+policyColumns+`
		FROM policies WHERE tenant_id=$1 ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPolicy(row pgx.Row) (models.Policy, error) {
	var p models.Policy
	var rules []byte
	err := row.Scan(&p.ID, &p.ExternalID, &p.TenantID, &p.ZoneRef, &p.RemoteObjectID, &p.Name, &p.Domain, &p.Path,
		&p.SessionDuration, &p.RequireMFA, &rules, &p.Status, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Policy{}, ErrNotFound
	}
	if err != nil {
		return models.Policy{}, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &p.Rules); err != nil {
			return models.Policy{}, fmt.Errorf("decode rules: %w", err)
		}
	}
	return p, nil
}
