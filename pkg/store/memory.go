package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aegis/pkg/models"
)

// MemoryPolicies is an in-memory PolicyStore for tests and local development.
// It mirrors the Postgres implementation's semantics, including the
// oldest-first natural-key lookup and the absence of a (domain, path)
// uniqueness constraint.
type MemoryPolicies struct {
	mu    sync.Mutex
	items map[string]models.Policy
}

func NewMemoryPolicies() *MemoryPolicies {
	return &MemoryPolicies{items: map[string]models.Policy{}}
}

func (s *MemoryPolicies) Create(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.items[p.ID] = clonePolicy(*p)
	return nil
}

func (s *MemoryPolicies) Update(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	curr, ok := s.items[p.ID]
	if !ok {
		return ErrNotFound
	}
	curr.Name = p.Name
	curr.SessionDuration = p.SessionDuration
	curr.RequireMFA = p.RequireMFA
	curr.Rules = append([]models.Rule(nil), p.Rules...)
	curr.UpdatedBy = p.UpdatedBy
	curr.UpdatedAt = time.Now().UTC()
	s.items[p.ID] = curr
	p.UpdatedAt = curr.UpdatedAt
	return nil
}

func (s *MemoryPolicies) UpdateSyncState(_ context.Context, id, remoteObjectID, status, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	curr, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	curr.RemoteObjectID = remoteObjectID
	curr.Status = status
	if updatedBy != "" {
		curr.UpdatedBy = updatedBy
	}
	curr.UpdatedAt = time.Now().UTC()
	s.items[id] = curr
	return nil
}

func (s *MemoryPolicies) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryPolicies) GetByExternalID(_ context.Context, tenantID, externalID string) (models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.items {
		if p.TenantID == tenantID && p.ExternalID == externalID {
			return clonePolicy(p), nil
		}
	}
	return models.Policy{}, ErrNotFound
}

func (s *MemoryPolicies) FindByNaturalKey(_ context.Context, tenantID, domain, path string) (models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.Policy
	for _, p := range s.items {
		if p.TenantID == tenantID && p.Domain == domain && p.Path == path {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return models.Policy{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return clonePolicy(matches[0]), nil
}

func (s *MemoryPolicies) List(_ context.Context, tenantID string) ([]models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Policy
	for _, p := range s.items {
		if p.TenantID == tenantID {
			out = append(out, clonePolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clonePolicy(p models.Policy) models.Policy {
	p.Rules = append([]models.Rule(nil), p.Rules...)
	return p
}
