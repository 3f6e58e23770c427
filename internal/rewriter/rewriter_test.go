package rewriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/connexus-ai/aegis-query/internal/model"
)

func TestSelect_HistoryAwareWhenPronounAndHistory(t *testing.T) {
	r := New()
	got := r.Select("When did it start?", true, false)
	assert.Equal(t, StrategyHistoryAware, got)
}

func TestSelect_ExpansionWhenShort(t *testing.T) {
	r := New()
	got := r.Select("IBM revenue", false, false)
	assert.Equal(t, StrategyExpansion, got)
}

func TestSelect_PassthroughOtherwise(t *testing.T) {
	r := New()
	got := r.Select("What was IBM's total revenue for fiscal year 2022?", false, false)
	assert.Equal(t, StrategyPassthrough, got)
}

func TestRewrite_HistoryAwareSubstitutesPronoun(t *testing.T) {
	r := New()
	convCtx := &model.ConversationContext{
		Entities: map[string]int{"Project Atlas": 0},
	}
	got := r.Rewrite(context.Background(), "When did it start?", StrategyHistoryAware, convCtx)
	assert.Contains(t, got, "Project Atlas")
}

func TestRewrite_IdempotentUnderSameContext(t *testing.T) {
	r := New()
	convCtx := &model.ConversationContext{
		Entities: map[string]int{"Project Atlas": 0},
	}
	once := r.Rewrite(context.Background(), "When did it start?", StrategyHistoryAware, convCtx)
	twice := r.Rewrite(context.Background(), once, StrategyHistoryAware, convCtx)
	assert.Equal(t, once, twice)
}

func TestRewrite_ExpansionIdempotent(t *testing.T) {
	r := New()
	once := r.Rewrite(context.Background(), "revenue growth", StrategyExpansion, nil)
	twice := r.Rewrite(context.Background(), once, StrategyExpansion, nil)
	assert.Equal(t, once, twice)
}

func TestRewrite_PassthroughUnchanged(t *testing.T) {
	r := New()
	got := r.Rewrite(context.Background(), "hello", StrategyPassthrough, nil)
	assert.Equal(t, "hello", got)
}
