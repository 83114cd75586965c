// Package health reports whether the broker and the dead letter queue behind
// an event bus client are usable.
package health

import (
	"context"
	"sort"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// Report is the combined result of several checks. Status is the worst
// status among them.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Names returns the check names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Run executes checkers concurrently and combines their results. A check
// still running when ctx ends is reported unhealthy.
func Run(ctx context.Context, checkers ...Checker) Report {
	start := time.Now()

	type named struct {
		name   string
		result CheckResult
	}
	results := make(chan named, len(checkers))
	for _, checker := range checkers {
		go func(checker Checker) {
			results <- named{name: checker.Name(), result: checker.Check(ctx)}
		}(checker)
	}

	report := Report{
		Status:    StatusHealthy,
		Timestamp: start,
		Checks:    make(map[string]CheckResult, len(checkers)),
	}
	pending := make(map[string]bool, len(checkers))
	for _, checker := range checkers {
		pending[checker.Name()] = true
	}

collect:
	for range checkers {
		select {
		case r := <-results:
			report.Checks[r.name] = r.result
			delete(pending, r.name)
		case <-ctx.Done():
			break collect
		}
	}

	for name := range pending {
		report.Checks[name] = CheckResult{
			Name:      name,
			Status:    StatusUnhealthy,
			Message:   "Check timed out",
			Error:     ctx.Err().Error(),
			Timestamp: start,
		}
	}

	for _, r := range report.Checks {
		if r.Status.rank() > report.Status.rank() {
			report.Status = r.Status
		}
	}
	report.Duration = time.Since(start)
	return report
}
