package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process OrganizationStore used by the CLI and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[string]*Organization
	attempts []VerificationAttempt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: make(map[string]*Organization)}
}

// CreateOrganization stores a copy of org and returns its ID.
func (m *MemoryStore) CreateOrganization(_ context.Context, org *Organization) (string, error) {
	if org == nil {
		return "", fmt.Errorf("organization is required")
	}
	cp := cloneOrganization(org)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.VerificationStatus == "" {
		cp.VerificationStatus = StatusPending
	}
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orgs[cp.ID]; exists {
		return "", fmt.Errorf("organization %s already exists", cp.ID)
	}
	m.orgs[cp.ID] = cp
	return cp.ID, nil
}

// GetOrganization returns a copy of the stored organization.
func (m *MemoryStore) GetOrganization(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}
	return cloneOrganization(org), nil
}

// SaveVerification updates the verification fields. A nil date keeps the stored one.
func (m *MemoryStore) SaveVerification(_ context.Context, id string, update VerificationUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("invalid verification status %q", update.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrganizationNotFound, id)
	}
	org.VerificationStatus = update.Status
	org.VerificationNotes = update.Notes
	org.IsVerified = update.IsVerified
	if update.VerificationDate != nil {
		t := *update.VerificationDate
		org.VerificationDate = &t
	}
	org.UpdatedAt = time.Now()
	return nil
}

// RecordAttempt appends to the in-memory audit trail.
func (m *MemoryStore) RecordAttempt(_ context.Context, attempt *VerificationAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

// Attempts returns the recorded audit trail for one organization.
func (m *MemoryStore) Attempts(organizationID string) []VerificationAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []VerificationAttempt
	for _, a := range m.attempts {
		if a.OrganizationID == organizationID {
			out = append(out, a)
		}
	}
	return out
}

func cloneOrganization(o *Organization) *Organization {
	cp := *o
	if o.DocumentContent != nil {
		cp.DocumentContent = append([]byte(nil), o.DocumentContent...)
	}
	if o.VerificationDate != nil {
		t := *o.VerificationDate
		cp.VerificationDate = &t
	}
	return &cp
}
