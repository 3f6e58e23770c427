package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ id string }

type validatingFakeProvider struct {
	fakeProvider
	validateErr error
	validated   int
}

func (v *validatingFakeProvider) Validate(ctx context.Context) error {
	v.validated++
	return v.validateErr
}

func TestRegistry_GetConstructsOnceAndCachesThereafter(t *testing.T) {
	r := New()
	calls := 0
	r.Register(KindLLM, "model-a", func(ctx context.Context, modelID string) (interface{}, error) {
		calls++
		return &fakeProvider{id: modelID}, nil
	})

	inst1, err := r.Get(context.Background(), KindLLM, "model-a")
	require.NoError(t, err)
	inst2, err := r.Get(context.Background(), KindLLM, "model-a")
	require.NoError(t, err)

	assert.Same(t, inst1, inst2)
	assert.Equal(t, 1, calls, "factory must only run once per (kind, model_id)")
}

func TestRegistry_DistinctModelIDsGetDistinctInstances(t *testing.T) {
	r := New()
	r.Register(KindLLM, "model-a", func(ctx context.Context, modelID string) (interface{}, error) {
		return &fakeProvider{id: modelID}, nil
	})
	r.Register(KindLLM, "model-b", func(ctx context.Context, modelID string) (interface{}, error) {
		return &fakeProvider{id: modelID}, nil
	})

	a, err := r.Get(context.Background(), KindLLM, "model-a")
	require.NoError(t, err)
	b, err := r.Get(context.Background(), KindLLM, "model-b")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_UnregisteredKeyErrors(t *testing.T) {
	r := New()
	_, err := r.Get(context.Background(), KindLLM, "unknown")
	assert.Error(t, err)
}

func TestRegistry_ConstructionFailureEntersBackoffAndIsNotRetriedImmediately(t *testing.T) {
	r := New()
	calls := 0
	r.Register(KindLLM, "model-a", func(ctx context.Context, modelID string) (interface{}, error) {
		calls++
		return nil, errors.New("construction failed")
	})

	_, err := r.Get(context.Background(), KindLLM, "model-a")
	assert.Error(t, err)
	_, err = r.Get(context.Background(), KindLLM, "model-a")
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "a second Get within the back-off window must not re-invoke the factory")
}

func TestRegistry_ValidateFailureIsCachedAsFailureNotAsSuccess(t *testing.T) {
	r := New()
	r.Register(KindLLM, "model-a", func(ctx context.Context, modelID string) (interface{}, error) {
		return &validatingFakeProvider{validateErr: errors.New("bad credentials")}, nil
	})

	_, err := r.Get(context.Background(), KindLLM, "model-a")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_GetLLMTypeAssertsAndErrorsOnWrongCapability(t *testing.T) {
	r := New()
	r.Register(KindLLM, "not-an-llm", func(ctx context.Context, modelID string) (interface{}, error) {
		return &struct{}{}, nil
	})
	_, err := r.GetLLM(context.Background(), "not-an-llm")
	assert.Error(t, err)
}

func TestRegistry_SizeCountsOnlySuccessfullyConstructedEntries(t *testing.T) {
	r := New()
	r.Register(KindLLM, "good", func(ctx context.Context, modelID string) (interface{}, error) {
		return &fakeProvider{id: modelID}, nil
	})
	r.Register(KindLLM, "bad", func(ctx context.Context, modelID string) (interface{}, error) {
		return nil, errors.New("fails")
	})

	_, _ = r.Get(context.Background(), KindLLM, "good")
	_, _ = r.Get(context.Background(), KindLLM, "bad")
	assert.Equal(t, 1, r.Size())
}

func TestIsRetryableError_MatchesKnownRateLimitSignals(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, isRetryableError(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.True(t, isRetryableError(fmt.Errorf("rate limit hit")))
	assert.False(t, isRetryableError(errors.New("invalid argument")))
	assert.False(t, isRetryableError(nil))
}

func TestWithRetry_NonRetryableErrorReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "op", func() (string, error) {
		calls++
		return "", errors.New("permanent failure")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_SucceedsOnFirstRetryAfterRateLimit(t *testing.T) {
	calls := 0
	result, err := withRetry(context.Background(), "op", func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("429 rate limit")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_ContextCancelledDuringBackoffAbortsEarly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := withRetry(ctx, "op", func() (string, error) {
		calls++
		return "", errors.New("429 rate limit")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "the ctx deadline is shorter than the first 500ms backoff delay")
}
