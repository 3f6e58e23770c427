package tokens

import (
	"github.com/connexus-ai/aegis-query/internal/model"
)

// ModelContextWindow maps a model id to its context window size in tokens.
// New models are added here as C1 gains providers; unknown ids fall back to
// a conservative default so WarningEvaluator never divides by zero.
var ModelContextWindow = map[string]int{
	"gemini-3-pro-preview":      1_000_000,
	"gemini-2.5-flash":          1_000_000,
	"claude-opus-4-5":           200_000,
	"claude-sonnet-4-5":         200_000,
	"gpt-5.1":                   272_000,
	"gpt-5.1-mini":              272_000,
	"text-embedding-004":        2_048,
}

const defaultContextWindow = 128_000

// ContextWindowFor returns the configured context window for modelID, or a
// conservative default if unknown.
func ContextWindowFor(modelID string) int {
	if w, ok := ModelContextWindow[modelID]; ok {
		return w
	}
	return defaultContextWindow
}

// conversationTooLongFraction is the rolling-sum-of-last-5 threshold
// (spec.md §4.6: "exceeds 80% of the context window").
const conversationTooLongFraction = 0.80

// WarningEvaluator computes at most one TokenWarning per check, using the
// fixed thresholds spec.md §3 defines.
type WarningEvaluator struct{}

// NewWarningEvaluator creates a WarningEvaluator. It is stateless; all
// inputs are passed per call.
func NewWarningEvaluator() *WarningEvaluator {
	return &WarningEvaluator{}
}

// Check thresholds a single usage's TotalTokens against the model's context
// window and returns the single highest-severity warning that applies, or
// nil. Warning emission is monotone: a higher current at an equal limit
// never returns a less-severe (or absent) warning than a lower current
// would (spec.md §8 invariant 6).
func (e *WarningEvaluator) Check(usage model.LLMUsage, contextWindow int) *model.TokenWarning {
	if contextWindow <= 0 {
		return nil
	}
	pct := float64(usage.TotalTokens) / float64(contextWindow) * 100

	switch {
	case pct >= 95:
		return &model.TokenWarning{
			Kind: model.WarningAt95, Current: usage.TotalTokens, Limit: contextWindow,
			Pct: pct, Severity: model.SeverityCritical,
			SuggestedAction: "start a new session or summarize history before continuing",
		}
	case pct >= 85:
		return &model.TokenWarning{
			Kind: model.WarningApproaching85, Current: usage.TotalTokens, Limit: contextWindow,
			Pct: pct, Severity: model.SeverityWarning,
			SuggestedAction: "consider summarizing older turns",
		}
	case pct >= 70:
		return &model.TokenWarning{
			Kind: model.WarningApproaching70, Current: usage.TotalTokens, Limit: contextWindow,
			Pct: pct, Severity: model.SeverityInfo,
		}
	default:
		return nil
	}
}

// CheckConversation computes the rolling sum of the last five usages in
// history and emits CONVERSATION_TOO_LONG when it exceeds 80% of the
// model's context window (spec.md §4.6).
func (e *WarningEvaluator) CheckConversation(history []model.LLMUsage, modelID string) *model.TokenWarning {
	window := ContextWindowFor(modelID)
	last := history
	if len(last) > 5 {
		last = last[len(last)-5:]
	}
	sum := 0
	for _, u := range last {
		sum += u.TotalTokens
	}
	limit := int(float64(window) * conversationTooLongFraction)
	if sum <= limit {
		return nil
	}
	pct := float64(sum) / float64(window) * 100
	return &model.TokenWarning{
		Kind: model.WarningConversationTooLong, Current: sum, Limit: limit,
		Pct: pct, Severity: model.SeverityWarning,
		SuggestedAction: "archive this session and start a new one",
	}
}

// ContextTruncated builds the warning C9 emits when it truncates older
// turns to fit the context window (spec.md §4.9 step 2).
func ContextTruncated(droppedTokens, contextWindow int) *model.TokenWarning {
	return &model.TokenWarning{
		Kind:     model.WarningContextTruncated,
		Current:  droppedTokens,
		Limit:    contextWindow,
		Pct:      float64(droppedTokens) / float64(contextWindow) * 100,
		Severity: model.SeverityInfo,
	}
}
