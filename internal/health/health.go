// Package health runs named readiness checks for the API's health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
	Latency string `json:"latency"`
}

// Check returns nil when the subsystem is usable.
type Check func(ctx context.Context) error

// Registry holds named checks and runs them concurrently on demand.
type Registry struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
}

type namedCheck struct {
	name  string
	check Check
}

// NewRegistry creates a registry whose checks each get timeout to finish.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll reports overall health plus per-check results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := make([]namedCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	statuses := make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, nc := range checks {
		wg.Add(1)
		go func(i int, nc namedCheck) {
			defer wg.Done()
			statuses[i] = r.run(ctx, nc)
		}(i, nc)
	}
	wg.Wait()

	healthy := true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, nc namedCheck) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := nc.check(ctx)
	status := Status{Name: nc.name, Healthy: err == nil, Latency: time.Since(start).String()}
	if err != nil {
		status.Detail = err.Error()
	}
	return status
}
