package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// validateBackoff is the short back-off window a failed first-validation is
// cached for before the registry retries construction on the next call
// (spec.md §4.1).
const validateBackoff = 30 * time.Second

type cacheKey struct {
	kind    Kind
	modelID string
}

type cacheEntry struct {
	provider   interface{}
	failedAt   time.Time
	lastErr    error
}

// Factory constructs a provider instance for a given model id. Registered
// once per (kind, model_id) pair at process start — no runtime reflection.
type Factory func(ctx context.Context, modelID string) (interface{}, error)

// Registry is a thread-safe factory + per-key singleton cache, implemented
// as double-checked locking around a map keyed by (kind, model_id), exactly
// as spec.md §4.1 specifies. Generalizes the locking discipline in the
// teacher's internal/cache/query.go.
type Registry struct {
	mu        sync.RWMutex
	factories map[cacheKey]Factory
	instances map[cacheKey]*cacheEntry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		factories: make(map[cacheKey]Factory),
		instances: make(map[cacheKey]*cacheEntry),
	}
}

// Register associates a Factory with a (kind, model_id) pair. Call at
// process start before serving traffic.
func (r *Registry) Register(kind Kind, modelID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[cacheKey{kind, modelID}] = f
}

// Get returns the cached provider for (kind, model_id), constructing and
// validating it on first use. A validation failure is cached for
// validateBackoff and retried on the next call after that window elapses.
func (r *Registry) Get(ctx context.Context, kind Kind, modelID string) (interface{}, error) {
	key := cacheKey{kind, modelID}

	r.mu.RLock()
	entry, ok := r.instances[key]
	r.mu.RUnlock()
	if ok && entry.provider != nil {
		return entry.provider, nil
	}
	if ok && entry.provider == nil && time.Since(entry.failedAt) < validateBackoff {
		return nil, fmt.Errorf("provider.Get: %s/%s still in back-off since last failure: %w", kind, modelID, entry.lastErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock (double-checked locking).
	if entry, ok := r.instances[key]; ok && entry.provider != nil {
		return entry.provider, nil
	}
	if entry, ok := r.instances[key]; ok && entry.provider == nil && time.Since(entry.failedAt) < validateBackoff {
		return nil, fmt.Errorf("provider.Get: %s/%s still in back-off since last failure: %w", kind, modelID, entry.lastErr)
	}

	factory, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("provider.Get: no factory registered for %s/%s", kind, modelID)
	}

	inst, err := factory(ctx, modelID)
	if err != nil {
		r.instances[key] = &cacheEntry{failedAt: time.Now(), lastErr: err}
		slog.Error("[PROVIDER] construction failed", "kind", kind, "model_id", modelID, "error", err)
		return nil, fmt.Errorf("provider.Get: construct %s/%s: %w", kind, modelID, err)
	}

	if v, ok := inst.(Validator); ok {
		if err := v.Validate(ctx); err != nil {
			r.instances[key] = &cacheEntry{failedAt: time.Now(), lastErr: err}
			slog.Error("[PROVIDER] validation failed", "kind", kind, "model_id", modelID, "error", err)
			return nil, fmt.Errorf("provider.Get: validate %s/%s: %w", kind, modelID, err)
		}
	}

	r.instances[key] = &cacheEntry{provider: inst}
	slog.Info("[PROVIDER] constructed and validated", "kind", kind, "model_id", modelID)
	return inst, nil
}

// GetLLM is a typed convenience wrapper over Get.
func (r *Registry) GetLLM(ctx context.Context, modelID string) (LLM, error) {
	inst, err := r.Get(ctx, KindLLM, modelID)
	if err != nil {
		return nil, err
	}
	llm, ok := inst.(LLM)
	if !ok {
		return nil, fmt.Errorf("provider.GetLLM: %s does not implement LLM", modelID)
	}
	return llm, nil
}

// GetEmbed is a typed convenience wrapper over Get.
func (r *Registry) GetEmbed(ctx context.Context, modelID string) (Embed, error) {
	inst, err := r.Get(ctx, KindEmbed, modelID)
	if err != nil {
		return nil, err
	}
	e, ok := inst.(Embed)
	if !ok {
		return nil, fmt.Errorf("provider.GetEmbed: %s does not implement Embed", modelID)
	}
	return e, nil
}

// GetRerank is a typed convenience wrapper over Get.
func (r *Registry) GetRerank(ctx context.Context, modelID string) (Rerank, error) {
	inst, err := r.Get(ctx, KindRerank, modelID)
	if err != nil {
		return nil, err
	}
	rr, ok := inst.(Rerank)
	if !ok {
		return nil, fmt.Errorf("provider.GetRerank: %s does not implement Rerank", modelID)
	}
	return rr, nil
}

// GetTTS is a typed convenience wrapper over Get.
func (r *Registry) GetTTS(ctx context.Context, modelID string) (TTS, error) {
	inst, err := r.Get(ctx, KindTTS, modelID)
	if err != nil {
		return nil, err
	}
	t, ok := inst.(TTS)
	if !ok {
		return nil, fmt.Errorf("provider.GetTTS: %s does not implement TTS", modelID)
	}
	return t, nil
}

// Size returns the number of successfully constructed provider instances,
// exported as the provider_registry_size gauge.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.instances {
		if e.provider != nil {
			n++
		}
	}
	return n
}
