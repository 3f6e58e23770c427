// Package tokens implements C6: TokenTracker records actual provider usage
// into a bounded per-provider ring buffer and a per-session aggregate;
// WarningEvaluator thresholds usage against a model's context window and
// emits at most one TokenWarning per check (spec.md §4.6).
//
// Grounded on the teacher's internal/service/usage.go tier-limit checking
// (kept as the shape of limit-vs-usage comparison) plus a new ring buffer.
// Token counting switches from the teacher's word-count heuristic to
// github.com/pkoukk/tiktoken-go for the model-family-aware shared counter
// spec.md §4.9 requires.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// DefaultRingCapacity is the default bound on a provider's usage history
// (spec.md §4.6: "bounded ring buffer (default 100)").
const DefaultRingCapacity = 100

// Ring is a fixed-capacity FIFO of LLMUsage, guarded by a lightweight lock
// (spec.md §5: "Token usage ring buffer is per-provider-instance and
// guarded by a lightweight lock").
type Ring struct {
	mu       sync.Mutex
	entries  []model.LLMUsage
	capacity int
}

// NewRing creates a Ring with the given capacity (DefaultRingCapacity if <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{capacity: capacity}
}

// Push appends usage, evicting the oldest entry once at capacity.
func (r *Ring) Push(u model.LLMUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, u)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// Snapshot returns a copy of the current entries, oldest first.
func (r *Ring) Snapshot() []model.LLMUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LLMUsage, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries currently held (never exceeds capacity).
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Tracker owns one Ring per provider key plus a per-session aggregate usage
// map. It is the structure every LLM call's returned usage is appended to.
type Tracker struct {
	mu         sync.Mutex
	rings      map[string]*Ring
	ringCap    int
	sessionAgg map[string]model.LLMUsage
}

// NewTracker creates a Tracker with the given per-provider ring capacity.
func NewTracker(ringCapacity int) *Tracker {
	return &Tracker{
		rings:      make(map[string]*Ring),
		ringCap:    ringCapacity,
		sessionAgg: make(map[string]model.LLMUsage),
	}
}

// Record appends usage to the providerKey's ring and, if sessionID is
// non-empty, folds it into that session's running aggregate.
func (t *Tracker) Record(providerKey, sessionID string, u model.LLMUsage) {
	t.mu.Lock()
	ring, ok := t.rings[providerKey]
	if !ok {
		ring = NewRing(t.ringCap)
		t.rings[providerKey] = ring
	}
	if sessionID != "" {
		t.sessionAgg[sessionID] = t.sessionAgg[sessionID].Add(u)
	}
	t.mu.Unlock()

	ring.Push(u)
}

// SessionUsageHistory returns the running aggregate usage recorded for a
// session so far. Used by WarningEvaluator.CheckConversation callers that
// want the aggregate rather than raw history.
func (t *Tracker) SessionUsageHistory(sessionID string) model.LLMUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionAgg[sessionID]
}

// ProviderRing returns the ring for a provider key, creating it if absent.
func (t *Tracker) ProviderRing(providerKey string) *Ring {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring, ok := t.rings[providerKey]
	if !ok {
		ring = NewRing(t.ringCap)
		t.rings[providerKey] = ring
	}
	return ring
}

// Counter counts tokens for a piece of text under a given model's encoding.
// Approximate: known OpenAI model ids use their own encoding, and every other
// model id uses cl100k_base, the closest public encoding for non-OpenAI
// families, as the shared counter spec.md §4.9's Open Question resolves to ("use the current
// model's counter and recompute each turn").
type Counter struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the approximate token count of text for modelID's family.
// Falls back to cl100k_base when the model id isn't a known OpenAI model,
// which covers Vertex/Anthropic models closely enough for budgeting.
func (c *Counter) Count(modelID, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encodingFor(modelID)
	return len(enc.Encode(text, nil, nil))
}

func (c *Counter) encodingFor(modelID string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[modelID]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// tiktoken-go ships cl100k_base's ranks embedded; this only
			// fails on an invalid encoding name, which cl100k_base is not.
			panic("tokens: cl100k_base encoding unavailable: " + err.Error())
		}
	}
	c.cache[modelID] = enc
	return enc
}
