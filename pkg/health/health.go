// Package health runs periodic component checks and reports them over HTTP
// and the standard gRPC health protocol.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"persona-chat/backend/pkg/logger"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component is the last observed state of one check
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	Critical    bool      `json:"critical"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one component
type Check func(ctx context.Context) (Status, string, error)

type registered struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]registered
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	log         *logger.Logger
	now         func() time.Time

	grpc *grpchealth.Server
}

// NewChecker creates a checker that probes every checkPeriod
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}
	c := &Checker{
		checks:      make(map[string]registered),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		log:         log.WithComponent("health"),
		now:         time.Now,
		grpc:        grpchealth.NewServer(),
	}

	c.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})
	return c
}

// RegisterCheck adds a check. A critical check that is down makes the
// whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
		Critical:    critical,
	}
}

// RegisterPing registers a critical-or-not check around a ping function.
func (c *Checker) RegisterPing(name string, critical bool, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			if critical {
				return StatusDown, name + " is unreachable", err
			}
			return StatusDegraded, name + " is unreachable", err
		}
		return StatusUp, name + " is reachable", nil
	})
}

// RunChecks executes all registered checks once
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	type outcome struct {
		status Status
		desc   string
		err    error
	}
	results := make(map[string]outcome, len(checks))
	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		status, desc, err := r.check(checkCtx)
		cancel()
		results[name] = outcome{status, desc, err}
	}

	now := c.now()
	c.mu.Lock()
	for name, res := range results {
		component, ok := c.components[name]
		if !ok {
			continue
		}
		component.Status = res.status
		component.Description = res.desc
		component.LastChecked = now
		if res.err != nil {
			component.Error = res.err.Error()
			c.log.LogError(res.err, "Health check failed", "component", name, "status", string(res.status))
		} else {
			component.Error = ""
			c.log.Debug("Health check completed", "component", name, "status", string(res.status))
		}
	}
	c.mu.Unlock()

	if c.IsSystemHealthy() {
		c.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		c.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start runs the checks now and then every period until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of every component's state
func (c *Checker) GetStatus() map[string]*Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}
	return result
}

// IsSystemHealthy is false when any critical component is down
func (c *Checker) IsSystemHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Unhealthy lists the components that are not up, sorted by name
func (c *Checker) Unhealthy() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, component := range c.components {
		if component.Status != StatusUp {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HealthServer exposes the checker's aggregate status to gRPC health clients
func (c *Checker) HealthServer() *grpchealth.Server {
	return c.grpc
}

// Shutdown marks the service NOT_SERVING for draining clients
func (c *Checker) Shutdown() {
	c.grpc.Shutdown()
}

// HTTPHandler returns 200 while healthy and 503 otherwise
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := c.IsSystemHealthy()

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		response := map[string]any{
			"status":     status,
			"timestamp":  c.now(),
			"components": c.GetStatus(),
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			c.log.LogError(err, "Failed to encode health check response")
		}
	}
}
