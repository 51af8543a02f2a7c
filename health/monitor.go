package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// CheckFunc reports the current status of one component.
type CheckFunc func() Status

// Monitor runs registered checks on demand.
type Monitor struct {
	system string

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewMonitor creates a monitor whose aggregate status is named system.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system: system,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops the check for name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Check runs every check and aggregates the results, sorted by component.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	sort.Strings(names)
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		s := checks[name]()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(m.system, subs)
}

// ServeHTTP writes the aggregate status as JSON. Unhealthy answers 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.Check()

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
