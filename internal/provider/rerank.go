package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// LLMRerank implements the Rerank capability contract by asking an
// underlying LLM to score every (query, chunk) pair in a single batched
// call, per spec.md §4.4 ("reranker scores all pairs in a single batched
// call"). Score parsing follows the corpus's fenced-JSON-then-brace-scan
// recovery shown in the other_examples reranker (kalambet-tbyd), generalized
// from a single float to a per-chunk score array; a chunk the reply gives no
// score for gets the placeholder 1.0 - i*0.001 (i its input position), which
// sorts it ahead of every chunk scored below that.
type LLMRerank struct {
	llm LLM
}

// NewLLMRerank wraps llm as a Rerank provider.
func NewLLMRerank(llm LLM) *LLMRerank {
	return &LLMRerank{llm: llm}
}

type rerankScoreEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores every chunk against query in one LLM call and returns the
// top K, sorted by score descending.
func (r *LLMRerank) Rerank(ctx context.Context, query string, chunks []model.QueryResult, topK int) ([]model.QueryResult, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	prompt := buildRerankPrompt(query, chunks)
	resp, _, err := r.llm.Generate(ctx, rerankSystemPrompt, prompt, GenerateParams{MaxTokens: 1024, Temperature: 0})
	if err != nil {
		return nil, err
	}

	scores, parseErr := parseRerankScores(resp, len(chunks))
	if parseErr != nil {
		return nil, parseErr
	}

	out := make([]model.QueryResult, len(chunks))
	copy(out, chunks)
	for i := range out {
		out[i].Score = scores[i]
		out[i].Source = model.SourceRerank
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

const rerankSystemPrompt = `You are a relevance scoring engine. Given a query and a numbered list of candidate passages, respond with a JSON array of objects, one per passage, each with "index" (the passage number) and "score" (relevance 0.0-1.0). Respond with only the JSON array.`

func buildRerankPrompt(query string, chunks []model.QueryResult) string {
	var sb strings.Builder
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPassages:\n")
	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i, c.ChunkRef.Text))
	}
	return sb.String()
}

// parseRerankScores extracts a score-per-index array from an LLM response,
// falling back to each chunk's original rank-derived score (1.0 - i*epsilon)
// for any index the response omits. A response with no parsable JSON array
// returns an error.
func parseRerankScores(resp string, n int) ([]float64, error) {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 - float64(i)*0.001 // preserves original order as a tiebreak fallback
	}

	s := strings.TrimSpace(resp)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("provider.LLMRerank: no JSON array in response")
	}

	var entries []rerankScoreEntry
	if err := json.Unmarshal([]byte(s[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("provider.LLMRerank: unmarshal scores: %w", err)
	}

	for _, e := range entries {
		if e.Index >= 0 && e.Index < n {
			scores[e.Index] = e.Score
		}
	}
	return scores, nil
}
