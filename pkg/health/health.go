// Package health serves liveness and readiness probes.
//
// Checks run in the background; probe handlers only report the last known
// state. A check turns unhealthy after FailureThreshold consecutive failures
// and healthy again after one success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Check describes a registered check.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold defaults to 3.
	FailureThreshold int
}

type check struct {
	Check
	healthy atomic.Bool
	lastErr atomic.Pointer[string]
	fails   int // owned by the check goroutine
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Func(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.fails++
		if c.fails >= c.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.lastErr.Store(nil)
	c.healthy.Store(true)
}

// Health holds registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds a check. Checks start healthy.
func (h *Health) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	st := &check{Check: c}
	st.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, st)
	h.mu.Unlock()
}

// Run executes every check immediately and then at interval until ctx is
// done.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.mu.RLock()
	checks := append([]*check(nil), h.checks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// SetReady flips the manual readiness switch.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// Ready reports the switch and every readiness check.
func (h *Health) Ready() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(p Probe) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.Probe != p || c.healthy.Load() {
			continue
		}
		msg := "unhealthy"
		if last := c.lastErr.Load(); last != nil {
			msg = *last
		}
		out[c.Name] = msg
	}
	return out
}

// Handler serves the probe's state: 200 {"status":"ok"} or 503 with the
// failing checks.
func (h *Health) Handler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failures := h.failures(p)
		if p == Readiness && !h.ready.Load() {
			failures["_ready"] = "service is not ready"
		}
		write(w, failures)
	})
}

func write(w http.ResponseWriter, failures map[string]string) {
	status, label := http.StatusOK, "ok"
	if len(failures) > 0 {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(label) })
		if len(failures) == 0 {
			return
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
