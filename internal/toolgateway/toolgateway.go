// Package toolgateway implements C14: a circuit-breaker-protected gateway
// for optional chunk-enrichment tool calls (e.g. a web-fetch or metadata
// lookup tool) that must never fail the request they enrich (spec.md
// §4.14).
//
// The per-key state map and sync.Mutex-guarded window idiom is grounded on
// the teacher's internal/middleware/ratelimit.go sliding-window limiter
// (generalized from a request counter to a failure-streak counter). Timeout
// and panic recovery around the call itself are grounded on the teacher's
// internal/tools/executor.go executeWithErrorHandling, with the RBAC layer
// dropped — C14 has no caller-role concept, every call is system-initiated
// enrichment.
package toolgateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State names a circuit's current position in the CLOSED -> OPEN ->
// HALF_OPEN -> CLOSED state machine (spec.md §4.14).
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	// failureThreshold is the number of consecutive failures that trips the
	// circuit from CLOSED to OPEN.
	failureThreshold = 5
	// recoveryTimeout is how long a circuit stays OPEN before allowing a
	// single HALF_OPEN probe call.
	recoveryTimeout = 60 * time.Second
	// callTimeout bounds a single tool invocation.
	callTimeout = 30 * time.Second
	// maxConcurrentPerHost caps in-flight calls to a single host.
	maxConcurrentPerHost = 5
)

// Tool is a single enrichment call, keyed by host (e.g. a provider name or
// target domain) so each host gets its own circuit.
type Tool func(ctx context.Context) (interface{}, error)

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenBusy bool
	sem         chan struct{}
}

func newCircuit() *circuit {
	return &circuit{state: StateClosed, sem: make(chan struct{}, maxConcurrentPerHost)}
}

// Gateway dispatches enrichment calls through a per-key circuit breaker.
// Call never returns an error to a caller that only wants "did enrichment
// happen" — callers that care about degraded mode should check the second
// return value.
type Gateway struct {
	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a Gateway.
func New() *Gateway {
	return &Gateway{circuits: make(map[string]*circuit)}
}

func (g *Gateway) circuitFor(key string) *circuit {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.circuits[key]
	if !ok {
		c = newCircuit()
		g.circuits[key] = c
	}
	return c
}

// State returns key's current circuit state, for observability/admin use.
func (g *Gateway) State(key string) State {
	c := g.circuitFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Call invokes tool under key's circuit breaker. On a tripped circuit, a
// timeout, or a panic inside tool, Call returns (nil, false) — enrichment
// degraded gracefully — rather than propagating an error a caller might
// mistake for a reason to fail the surrounding request (spec.md §4.14:
// "a tool failure never fails the enclosing search request").
func (g *Gateway) Call(ctx context.Context, key string, tool Tool) (interface{}, bool) {
	c := g.circuitFor(key)

	if !c.admit() {
		slog.Warn("[TOOLGATEWAY] circuit open, skipping call", "key", key)
		return nil, false
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	default:
		slog.Warn("[TOOLGATEWAY] host concurrency limit reached, skipping call", "key", key)
		return nil, false
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := runTool(callCtx, tool)
	c.record(err == nil)

	if err != nil {
		slog.Warn("[TOOLGATEWAY] call failed", "key", key, "error", err)
		return nil, false
	}
	return result, true
}

// runTool isolates a panicking Tool so a misbehaving enrichment call can
// never crash the caller (spec.md §4.14, grounded on executor.go's
// executeWithErrorHandling panic recovery).
func runTool(ctx context.Context, tool Tool) (result interface{}, err error) {
	type out struct {
		result interface{}
		err    error
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- out{err: fmt.Errorf("toolgateway: panic: %v", p)}
			}
		}()
		r, e := tool(ctx)
		done <- out{result: r, err: e}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit reports whether a call may proceed under c's current state,
// transitioning OPEN -> HALF_OPEN once recoveryTimeout has elapsed.
func (c *circuit) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.openedAt) < recoveryTimeout {
			return false
		}
		c.state = StateHalfOpen
		c.halfOpenBusy = true
		return true
	case StateHalfOpen:
		if c.halfOpenBusy {
			return false
		}
		c.halfOpenBusy = true
		return true
	default:
		return false
	}
}

// record applies a call's outcome to c's state machine: a HALF_OPEN success
// closes the circuit, a HALF_OPEN failure reopens it, and
// failureThreshold consecutive CLOSED failures trips it open.
func (c *circuit) record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen {
		c.halfOpenBusy = false
		if success {
			c.state = StateClosed
			c.failures = 0
		} else {
			c.state = StateOpen
			c.openedAt = time.Now()
		}
		return
	}

	if success {
		c.failures = 0
		return
	}

	c.failures++
	if c.failures >= failureThreshold {
		c.state = StateOpen
		c.openedAt = time.Now()
	}
}
