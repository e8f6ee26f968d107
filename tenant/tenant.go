// Package tenant controls per-tenant and global execution limits. The
// scheduler calls Acquire before handing a claimed job to the worker pool
// and the pool calls Release after the attempt finishes, so no single
// tenant can occupy every worker slot.
package tenant

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines rate limiting and concurrency for a specific tenant.
type Limit struct {
	// TenantID is the tenant this limit applies to.
	TenantID string

	// MaxConcurrency caps simultaneously running jobs for this tenant.
	// Zero falls back to the manager's default per-tenant cap.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dispatched for this tenant. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// Manager tracks active job counts per tenant and globally.
// It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	// maxGlobal caps total active jobs; zero means unlimited.
	maxGlobal int
	// defaultTenantMax is the cap for tenants without an explicit Limit;
	// zero means no per-tenant cap.
	defaultTenantMax int

	globalActive int
	tenants      map[string]*tenantState
}

// NewManager creates a Manager. maxGlobal bounds total concurrent jobs and
// defaultTenantMax bounds each tenant without an explicit override.
func NewManager(maxGlobal, defaultTenantMax int, limits ...Limit) *Manager {
	m := &Manager{
		maxGlobal:        maxGlobal,
		defaultTenantMax: defaultTenantMax,
		tenants:          make(map[string]*tenantState, len(limits)),
	}
	for _, l := range limits {
		m.tenants[l.TenantID] = newTenantState(l)
	}
	return m
}

func newTenantState(l Limit) *tenantState {
	ts := &tenantState{maxConcurrency: l.MaxConcurrency}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the tenant. If the job is
// allowed to proceed it increments the active counters and returns true.
// The caller MUST call Release when the job completes.
func (m *Manager) Acquire(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxGlobal > 0 && m.globalActive >= m.maxGlobal {
		return false
	}

	ts := m.tenants[tenantID]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		limit := ts.maxConcurrency
		if limit <= 0 {
			limit = m.defaultTenantMax
		}
		if limit > 0 && ts.active >= limit {
			return false
		}
	} else {
		if m.defaultTenantMax > 0 {
			ts = &tenantState{}
			m.tenants[tenantID] = ts
			// New tenant under the default cap; active is 0 so it passes.
		}
	}

	if ts != nil {
		ts.active++
	}
	m.globalActive++
	return true
}

// Release decrements the active job count for the tenant.
func (m *Manager) Release(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil && ts.active > 0 {
		ts.active--
	}
	if m.globalActive > 0 {
		m.globalActive--
	}
}

// SetLimit dynamically updates (or creates) a tenant's limit. The current
// active count is preserved when reconfiguring.
func (m *Manager) SetLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tenants[l.TenantID]
	ts := newTenantState(l)
	if existing != nil {
		ts.active = existing.active
	}
	m.tenants[l.TenantID] = ts
}

// ActiveCount returns the current number of active jobs for a tenant.
func (m *Manager) ActiveCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}

// GlobalActiveCount returns the total number of active jobs.
func (m *Manager) GlobalActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globalActive
}
