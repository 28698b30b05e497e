package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker is the read side of a circuit breaker.
type Breaker interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DependencyHealth is the health of one guarded dependency.
type DependencyHealth struct {
	Name          string           `json:"name"`
	State         string           `json:"state"`
	Status        string           `json:"status"`
	Counts        gobreaker.Counts `json:"-"`
	LastSuccessAt *time.Time       `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time       `json:"last_failure_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}

// IsHealthy reports whether the breaker is closed.
func (h DependencyHealth) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// Registry tracks guarded dependencies and their last outcomes.
type Registry struct {
	mu   sync.RWMutex
	deps map[string]*dependency
}

type dependency struct {
	breaker       Breaker
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{deps: make(map[string]*dependency)}
}

// Register adds or replaces a dependency.
func (r *Registry) Register(name string, b Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[name] = &dependency{breaker: b}
}

// RecordSuccess notes a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastSuccessAt = &now
	}
}

// RecordFailure notes a failed call.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastFailureAt = &now
		if err != nil {
			d.lastError = err.Error()
		}
	}
}

// Health returns the health of one dependency.
func (r *Registry) Health(name string) (DependencyHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deps[name]
	if !ok {
		return DependencyHealth{}, false
	}
	return d.health(name), true
}

// All returns the health of every dependency, ordered by name.
func (r *Registry) All() []DependencyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DependencyHealth, 0, len(r.deps))
	for name, d := range r.deps {
		out = append(out, d.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered dependencies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deps)
}

func (d *dependency) health(name string) DependencyHealth {
	state := d.breaker.State()

	status := StatusHealthy
	switch state {
	case gobreaker.StateHalfOpen:
		status = StatusDegraded
	case gobreaker.StateOpen:
		status = StatusUnhealthy
	}

	return DependencyHealth{
		Name:          name,
		State:         state.String(),
		Status:        status,
		Counts:        d.breaker.Counts(),
		LastSuccessAt: d.lastSuccessAt,
		LastFailureAt: d.lastFailureAt,
		LastError:     d.lastError,
	}
}
