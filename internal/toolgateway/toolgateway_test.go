package toolgateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingTool(ctx context.Context) (interface{}, error) {
	return nil, errors.New("boom")
}

func okTool(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestCall_SuccessReturnsResultClosed(t *testing.T) {
	g := New()
	result, ok := g.Call(context.Background(), "host-a", okTool)
	assert.True(t, ok)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, g.State("host-a"))
}

func TestCall_FailureNeverPropagatesAsError(t *testing.T) {
	g := New()
	result, ok := g.Call(context.Background(), "host-a", failingTool)
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestCircuit_OpensAfterFiveConsecutiveFailures(t *testing.T) {
	g := New()
	for i := 0; i < failureThreshold; i++ {
		_, ok := g.Call(context.Background(), "host-b", failingTool)
		assert.False(t, ok)
	}
	assert.Equal(t, StateOpen, g.State("host-b"))
}

func TestCircuit_OpenSkipsCallsWithoutInvokingTool(t *testing.T) {
	g := New()
	for i := 0; i < failureThreshold; i++ {
		g.Call(context.Background(), "host-c", failingTool)
	}
	require.Equal(t, StateOpen, g.State("host-c"))

	called := false
	_, ok := g.Call(context.Background(), "host-c", func(ctx context.Context) (interface{}, error) {
		called = true
		return "should not run", nil
	})
	assert.False(t, ok)
	assert.False(t, called, "an OPEN circuit must not invoke the underlying tool")
}

func TestCircuit_HalfOpenProbeSuccessCloses(t *testing.T) {
	g := New()
	c := g.circuitFor("host-d")
	c.mu.Lock()
	c.state = StateOpen
	c.openedAt = time.Now().Add(-recoveryTimeout - time.Second)
	c.mu.Unlock()

	_, ok := g.Call(context.Background(), "host-d", okTool)
	assert.True(t, ok)
	assert.Equal(t, StateClosed, g.State("host-d"))
}

func TestCircuit_HalfOpenProbeFailureReopens(t *testing.T) {
	g := New()
	c := g.circuitFor("host-e")
	c.mu.Lock()
	c.state = StateOpen
	c.openedAt = time.Now().Add(-recoveryTimeout - time.Second)
	c.mu.Unlock()

	_, ok := g.Call(context.Background(), "host-e", failingTool)
	assert.False(t, ok)
	assert.Equal(t, StateOpen, g.State("host-e"))
}

func TestCircuit_SuccessResetsFailureStreak(t *testing.T) {
	g := New()
	g.Call(context.Background(), "host-f", failingTool)
	g.Call(context.Background(), "host-f", failingTool)
	g.Call(context.Background(), "host-f", okTool)

	c := g.circuitFor("host-f")
	c.mu.Lock()
	failures := c.failures
	c.mu.Unlock()
	assert.Equal(t, 0, failures)
}

func TestCall_PanicInToolIsRecoveredAsDegraded(t *testing.T) {
	g := New()
	result, ok := g.Call(context.Background(), "host-g", func(ctx context.Context) (interface{}, error) {
		panic("tool exploded")
	})
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestCall_IndependentCircuitsPerKey(t *testing.T) {
	g := New()
	for i := 0; i < failureThreshold; i++ {
		g.Call(context.Background(), "host-h", failingTool)
	}
	require.Equal(t, StateOpen, g.State("host-h"))
	assert.Equal(t, StateClosed, g.State("host-i"))
}

func TestCall_ConcurrencyCapPerHost(t *testing.T) {
	g := New()
	release := make(chan struct{})
	var wg sync.WaitGroup
	var successes, blocked int32
	var mu sync.Mutex

	slow := func(ctx context.Context) (interface{}, error) {
		<-release
		return "ok", nil
	}

	for i := 0; i < maxConcurrentPerHost+3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := g.Call(context.Background(), "host-j", slow)
			mu.Lock()
			if ok {
				successes++
			} else {
				blocked++
			}
			mu.Unlock()
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Greater(t, int(blocked), 0, "calls beyond the per-host concurrency cap must be skipped, not queued")
}
