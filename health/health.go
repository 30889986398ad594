package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status grades a component's condition.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses for aggregation.
func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report aggregates all check results; its status is the worst among them.
type Report struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// Registry runs a set of checkers and aggregates their results.
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *slog.Logger
	timeout  time.Duration
}

// RegistryOption configures the Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithCheckTimeout bounds each individual check
func WithCheckTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Register adds a checker. Checks run in registration order.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Check runs every registered checker concurrently and aggregates the
// results. An empty registry reports healthy.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make([]CheckResult, len(checkers)),
	}

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			report.Checks[i] = checker.Check(checkCtx)
		}(i, checker)
	}
	wg.Wait()

	for _, check := range report.Checks {
		if severity(check.Status) > severity(report.Status) {
			report.Status = check.Status
		}
		if check.Status != StatusHealthy {
			r.logger.Warn("health check not passing",
				"check", check.Name,
				"status", check.Status,
				"message", check.Message)
		}
	}
	return report
}
