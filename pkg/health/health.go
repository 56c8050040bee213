// Package health serves Kubernetes-style /livez and /readyz probes.
//
// Every registered check runs in its own goroutine. A check only flips to
// unhealthy after FailureThreshold consecutive failures and back to healthy
// after SuccessThreshold consecutive successes, so a single slow ping does
// not take the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind separates liveness from readiness checks.
type Kind uint8

// Probe kinds.
const (
	Liveness Kind = iota
	Readiness
)

// Default thresholds.
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 1
)

// Option tunes a single check.
type Option func(c *check)

// WithThresholds overrides the consecutive failure and success counts needed
// to change state. Non-positive values keep the defaults.
func WithThresholds(failure, success int) Option {
	return func(c *check) {
		if failure > 0 {
			c.failureThreshold = failure
		}
		if success > 0 {
			c.successThreshold = success
		}
	}
}

// StartUnhealthy makes the check report unhealthy until it first passes
// SuccessThreshold times.
func StartUnhealthy() Option {
	return func(c *check) { c.healthy.Store(false) }
}

// check is one registered probe. run is only called from the goroutine
// started by Health.Start, so the counters need no locking; healthy and
// lastErr are read by HTTP handlers and are atomic.
type check struct {
	name             string
	kind             Kind
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	fails int
	oks   int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}

	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold {
		c.healthy.Store(true)
	}
}

// failure returns the reason the check is unhealthy, or "" when it is not.
func (c *check) failure() string {
	if c.healthy.Load() {
		return ""
	}
	if msg := c.lastErr.Load(); msg != nil {
		return *msg
	}
	return "check is unhealthy"
}

// Health owns the registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks start healthy unless StartUnhealthy is given.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	c := &check{
		name:             name,
		kind:             kind,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: DefaultFailureThreshold,
		successThreshold: DefaultSuccessThreshold,
	}
	c.healthy.Store(true)
	for _, o := range opts {
		o(c)
	}

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck is shorthand for Add(Liveness, ...).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.Add(Liveness, name, timeout, fn, opts...)
}

// AddReadinessCheck is shorthand for Add(Readiness, ...).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.Add(Readiness, name, timeout, fn, opts...)
}

// Start runs every registered check immediately and then once per interval
// until Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. The server flips it to false
// when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Report is the probe result for one kind.
type Report struct {
	// Failures maps check name to failure reason. Empty when healthy.
	Failures map[string]string
}

// Healthy reports whether there are no failures.
func (r Report) Healthy() bool {
	return len(r.Failures) == 0
}

// Report evaluates the current state of all checks of kind. For readiness
// the manual flag is included as the "_readiness" entry.
func (h *Health) Report(kind Kind) Report {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	failures := make(map[string]string)
	for _, c := range checks {
		if c.kind != kind {
			continue
		}
		if msg := c.failure(); msg != "" {
			failures[c.name] = msg
		}
	}
	if kind == Readiness && !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return Report{Failures: failures}
}

// IsReady reports whether /readyz would answer 200.
func (h *Health) IsReady() bool {
	return h.Report(Readiness).Healthy()
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.Report(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.Report(Readiness))
}

// writeReport answers 200 {"status":"ok"} or 503
// {"status":"unhealthy","checks":{...}} with checks in name order.
func writeReport(w http.ResponseWriter, r Report) {
	status, label := http.StatusOK, "ok"
	if !r.Healthy() {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(label) })
		if r.Healthy() {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				names := make([]string, 0, len(r.Failures))
				for name := range r.Failures {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(r.Failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
