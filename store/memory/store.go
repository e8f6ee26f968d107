package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/store"
)

// Compile-time interface checks.
var (
	_ store.Store      = (*Store)(nil)
	_ job.Store        = (*Store)(nil)
	_ deadletter.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	deadletters map[string]*deadletter.Entry
	closed      bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		deadletters: make(map[string]*deadletter.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// ErrStoreClosed. Closing twice is a no-op.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Create persists a new job.
func (m *Store) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conveyor.ErrStoreClosed
	}
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// Get retrieves a job scoped to its tenant. A job belonging to a different
// tenant is reported as not found.
func (m *Store) Get(_ context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	j, ok := m.jobs[jobID.String()]
	if !ok || j.TenantID != tenantID {
		return nil, conveyor.ErrNotFound
	}
	return j.Clone(), nil
}

// ListByTenant returns the tenant's jobs matching the filter, ordered by
// priority rank descending then CreatedAt ascending.
func (m *Store) ListByTenant(_ context.Context, tenantID string, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if !f.MatchStatus(j.Status) || !f.MatchType(j.Type) {
			continue
		}
		if f.DedupeKey != "" && j.DedupeKey != f.DedupeKey {
			continue
		}
		if !f.CreatedAfter.IsZero() && !j.CreatedAt.After(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if !f.EligibleAt.IsZero() && j.RunAt.After(f.EligibleAt) {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		ri, rk := result[i].Priority.Rank(), result[k].Priority.Rank()
		if ri != rk {
			return ri > rk
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}

	return result, nil
}

// CompareAndTransition atomically applies mutate to the job iff its stored
// version equals expectedVersion.
func (m *Store) CompareAndTransition(_ context.Context, jobID id.JobID, expectedVersion int64, mutate job.Mutation) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	key := jobID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return nil, conveyor.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, conveyor.ErrVersionConflict
	}

	// Mutate a clone so a failing mutation leaves the record untouched.
	next := stored.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	m.jobs[key] = next

	return next.Clone(), nil
}

// Delete removes a terminal job scoped to its tenant.
func (m *Store) Delete(_ context.Context, tenantID string, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conveyor.ErrStoreClosed
	}
	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok || j.TenantID != tenantID {
		return conveyor.ErrNotFound
	}
	if !j.Terminal() {
		return conveyor.ErrInvalidTransition
	}
	delete(m.jobs, key)
	return nil
}

// ActiveTenants returns tenants that currently have pending or queued jobs,
// sorted for deterministic round-robin order.
func (m *Store) ActiveTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	seen := make(map[string]struct{})
	for _, j := range m.jobs {
		if j.Status == job.StatusPending || j.Status == job.StatusQueued {
			seen[j.TenantID] = struct{}{}
		}
	}

	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// PushDeadLetter adds a failed job entry to the dead letter archive.
func (m *Store) PushDeadLetter(_ context.Context, entry *deadletter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conveyor.ErrStoreClosed
	}
	cp := *entry
	m.deadletters[entry.ID.String()] = &cp
	return nil
}

// ListDeadLetters returns a tenant's entries matching the given options,
// newest first.
func (m *Store) ListDeadLetters(_ context.Context, tenantID string, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	result := make([]*deadletter.Entry, 0, len(m.deadletters))
	for _, e := range m.deadletters {
		if e.TenantID != tenantID {
			continue
		}
		if opts.Type != "" && string(e.Type) != opts.Type {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDeadLetter retrieves an entry by ID within the tenant's scope.
func (m *Store) GetDeadLetter(_ context.Context, tenantID string, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, conveyor.ErrStoreClosed
	}
	e, ok := m.deadletters[entryID.String()]
	if !ok || e.TenantID != tenantID {
		return nil, conveyor.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDeadLetter marks an entry as replayed.
func (m *Store) ReplayDeadLetter(_ context.Context, tenantID string, entryID id.DeadLetterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conveyor.ErrStoreClosed
	}
	e, ok := m.deadletters[entryID.String()]
	if !ok || e.TenantID != tenantID {
		return conveyor.ErrNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDeadLetters removes a tenant's entries with FailedAt before the given
// time.
func (m *Store) PurgeDeadLetters(_ context.Context, tenantID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, conveyor.ErrStoreClosed
	}
	var count int64
	for key, e := range m.deadletters {
		if e.TenantID == tenantID && e.FailedAt.Before(before) {
			delete(m.deadletters, key)
			count++
		}
	}
	return count, nil
}

// CountDeadLetters returns the number of entries archived for a tenant.
func (m *Store) CountDeadLetters(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, conveyor.ErrStoreClosed
	}
	var count int64
	for _, e := range m.deadletters {
		if e.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}
