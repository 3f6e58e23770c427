// Package rewriter implements C3: rewrites or expands a user question using
// conversation history before retrieval (spec.md §4.3).
//
// No direct teacher analog exists — the teacher's chat handler inlines ad
// hoc pronoun handling instead of a standalone rewriter. Grounded on the
// *shape* of the teacher's internal/service/promptloader.go template
// resolution idiom for the history_aware strategy, and on C9's entity map
// for pronoun resolution.
package rewriter

import (
	"context"
	"regexp"
	"strings"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// Strategy selects how Rewrite transforms the question (spec.md §4.3).
type Strategy string

const (
	StrategyPassthrough    Strategy = "passthrough"
	StrategyExpansion      Strategy = "expansion"
	StrategyDecomposition  Strategy = "decomposition"
	StrategyHistoryAware   Strategy = "history_aware"
)

// shortQuestionTokens is the token-count threshold below which a question
// is considered "short" and eligible for rewriting (spec.md §4.3).
const shortQuestionTokens = 5

var pronounRe = regexp.MustCompile(`(?i)\b(it|its|they|them|their|this|that|he|she|him|her)\b`)

// synonyms is a tiny static expansion table; a real deployment would swap
// this for a thesaurus lookup or embedding-nearest-term table, but the
// strategy contract (add OR-synonym clauses) is what spec.md §4.3 fixes.
var synonyms = map[string][]string{
	"revenue":   {"income", "sales"},
	"growth":    {"increase", "expansion"},
	"profit":    {"earnings", "net income"},
	"cost":      {"expense", "spending"},
}

// Rewriter rewrites a question using the strategy selected by config.
// Rewrite is idempotent under the same context: rewrite(rewrite(q)) ==
// rewrite(q) (spec.md §8), because HistoryAware leaves the text unchanged
// once the entity name appears literally in it, and Expansion adds no
// synonym that is already present.
type Rewriter struct{}

// New creates a Rewriter.
func New() *Rewriter {
	return &Rewriter{}
}

// Select picks the strategy spec.md §4.3 dictates for a question/context
// pair: history_aware when pronouns are present and history exists,
// expansion when explicitly requested or the question has fewer than
// shortQuestionTokens words, passthrough otherwise. Select never returns
// decomposition.
func (r *Rewriter) Select(question string, hasHistory, explicitExpansion bool) Strategy {
	switch {
	case hasHistory && pronounRe.MatchString(question):
		return StrategyHistoryAware
	case explicitExpansion || isShort(question):
		return StrategyExpansion
	default:
		return StrategyPassthrough
	}
}

// Rewrite applies strategy to question given the current conversation
// context (nil if there is none).
func (r *Rewriter) Rewrite(ctx context.Context, question string, strategy Strategy, convCtx *model.ConversationContext) string {
	switch strategy {
	case StrategyHistoryAware:
		return historyAware(question, convCtx)
	case StrategyExpansion:
		return expand(question)
	case StrategyPassthrough:
		return question
	default:
		return question
	}
}

func isShort(question string) bool {
	return len(strings.Fields(question)) < shortQuestionTokens
}

// historyAware resolves pronouns by substituting the most-recently
// mentioned entity from convCtx.Entities (spec.md §4.3/§4.9). Idempotent:
// once the pronoun has been replaced by the literal entity name, the regex
// no longer matches, so a second pass is a no-op.
func historyAware(question string, convCtx *model.ConversationContext) string {
	if convCtx == nil || len(convCtx.Entities) == 0 {
		return question
	}
	entity := mostRecentEntity(convCtx.Entities)
	if entity == "" {
		return question
	}
	if strings.Contains(strings.ToLower(question), strings.ToLower(entity)) {
		return question // already resolved — idempotent no-op
	}
	return pronounRe.ReplaceAllString(question, entity)
}

// mostRecentEntity returns the entity with the highest first-mention turn
// index (i.e. the most recently introduced one).
func mostRecentEntity(entities map[string]int) string {
	best := ""
	bestTurn := -1
	for name, turn := range entities {
		if turn > bestTurn {
			bestTurn = turn
			best = name
		}
	}
	return best
}

// expand appends "OR" clauses for any recognized synonym term. Idempotent:
// re-running on an already-expanded question finds the same synonym set
// already present and appends nothing new, since each synonym is added only
// when it does not already occur in the question.
func expand(question string) string {
	lower := strings.ToLower(question)
	var additions []string
	for term, syns := range synonyms {
		if !strings.Contains(lower, term) {
			continue
		}
		for _, syn := range syns {
			if !strings.Contains(lower, strings.ToLower(syn)) {
				additions = append(additions, syn)
			}
		}
	}
	if len(additions) == 0 {
		return question
	}
	return question + " OR " + strings.Join(additions, " OR ")
}
