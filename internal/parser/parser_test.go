package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_XMLAnswerTag(t *testing.T) {
	raw := "<thinking>IBM reported revenue.</thinking><answer>$73.6 billion in 2022</answer>"
	res := Parse(raw, "")
	require.Equal(t, StrategyXML, res.Strategy)
	assert.Equal(t, "$73.6 billion in 2022", res.Answer)
	assert.GreaterOrEqual(t, res.Quality, 0.6)
}

func TestParse_XMLFallsBackAfterThinking(t *testing.T) {
	raw := "<thinking>reasoning here</thinking>\nThe revenue was $73.6 billion."
	res := Parse(raw, "")
	require.Equal(t, StrategyXML, res.Strategy)
	assert.Contains(t, res.Answer, "73.6 billion")
}

func TestParse_JSONObject(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"answer\": \"$73.6 billion\", \"confidence\": 0.9}\n```"
	res := Parse(raw, "")
	require.Equal(t, StrategyJSON, res.Strategy)
	assert.Equal(t, "$73.6 billion", res.Answer)
}

func TestParse_FinalAnswerMarker(t *testing.T) {
	raw := "Let me think about this step by step.\nFinal Answer: $73.6 billion in 2022"
	res := Parse(raw, "")
	require.Equal(t, StrategyMarker, res.Strategy)
	assert.Equal(t, "$73.6 billion in 2022", res.Answer)
}

func TestParse_RegexCleanupStripsArtifactPrefix(t *testing.T) {
	raw := "Based on the analysis of the filings: revenue was $73.6 billion (in the context of fiscal year 2022)."
	res := Parse(raw, "")
	assert.Equal(t, StrategyRegex, res.Strategy)
	assert.NotContains(t, res.Answer, "Based on the analysis")
	assert.NotContains(t, res.Answer, "in the context of")
}

func TestParse_RawFallback(t *testing.T) {
	res := Parse("", "")
	assert.Equal(t, StrategyRaw, res.Strategy)
	assert.Equal(t, 0.0, res.Quality)
}

func TestScore_ArtifactPenalty(t *testing.T) {
	res := score("Based on the analysis of the data, revenue grew.", "", StrategyRaw)
	assert.InDelta(t, 0.6, res.Quality, 0.001)
}

func TestScore_ShortAnswerPenalty(t *testing.T) {
	res := score("Yes.", "", StrategyRaw)
	assert.InDelta(t, 0.7, res.Quality, 0.001)
}

func TestScore_LongAnswerPenalty(t *testing.T) {
	long := make([]byte, 2100)
	for i := range long {
		long[i] = 'a'
	}
	res := score(string(long), "", StrategyRaw)
	assert.InDelta(t, 0.9, res.Quality, 0.001)
}

func TestScore_RepeatedSentencePenalty(t *testing.T) {
	res := score("Revenue grew steadily. Revenue grew steadily.", "", StrategyRaw)
	assert.InDelta(t, 0.8, res.Quality, 0.001)
}

func TestScore_QuestionEchoPenalty(t *testing.T) {
	res := score("What was the revenue in 2022 plus some more padding text here", "what was the revenue in 2022", StrategyRaw)
	assert.InDelta(t, 0.9, res.Quality, 0.001)
}

func TestScore_FloorsAtZero(t *testing.T) {
	res := score("Based on the analysis:", "based on the analysis", StrategyRaw)
	assert.GreaterOrEqual(t, res.Quality, 0.0)
}

func TestParse_NeverReturnsArtifactWhenQualityAcceptable(t *testing.T) {
	cases := []string{
		"<answer>Revenue was $73.6 billion, driven by cloud growth.</answer>",
		"Final answer: Revenue was $73.6 billion in 2022.",
	}
	for _, raw := range cases {
		res := Parse(raw, "")
		if res.Quality >= 0.6 {
			assert.False(t, hasArtifact(res.Answer), "answer=%q", res.Answer)
		}
	}
}
