package health

import (
	"context"
	"time"
)

// Check is one named probe. Probes must be cheap: the checker runs them
// inline on every healthz request.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Result is the outcome of one probe.
type Result struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Checker runs a fixed set of probes with a per-run deadline.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker builds an empty checker. A zero timeout defaults to 2s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Add appends a probe.
func (c *Checker) Add(name string, fn func(ctx context.Context) error) {
	c.checks = append(c.checks, Check{Name: name, Fn: fn})
}

// Run executes every probe and reports per-probe results plus the overall
// verdict.
func (c *Checker) Run(ctx context.Context) (bool, []Result) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	healthy := true
	results := make([]Result, 0, len(c.checks))
	for _, chk := range c.checks {
		r := Result{Name: chk.Name, OK: true}
		if err := chk.Fn(runCtx); err != nil {
			r.OK = false
			r.Error = err.Error()
			healthy = false
		}
		results = append(results, r)
	}
	return healthy, results
}
