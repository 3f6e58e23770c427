package model

// StepType identifies which stage of the CoT state machine produced a
// ReasoningStep (spec.md §4.8).
type StepType string

const (
	StepClassification StepType = "classification"
	StepDecomposition  StepType = "decomposition"
	StepGeneration     StepType = "generation"
	StepSynthesis      StepType = "synthesis"
)

// ReasoningStep is one entry in a CoT response's reasoning_steps list.
type ReasoningStep struct {
	Type    StepType `json:"type"`
	Summary string   `json:"summary"`
	Usage   LLMUsage `json:"usage"`
	Quality float64  `json:"quality"`
}

// Classification is the CLASSIFY step's verdict.
type Classification string

const (
	ClassifySimple     Classification = "simple"
	ClassifyComplex    Classification = "complex"
	ClassifyAnalytical Classification = "analytical"
)

// CoTResult is C8's output (spec.md §4.8): confidence = min(step.quality);
// AggregateUsage sums all step usages.
type CoTResult struct {
	FinalAnswer    string          `json:"finalAnswer"`
	ReasoningSteps []ReasoningStep `json:"reasoningSteps"`
	AggregateUsage LLMUsage        `json:"aggregateUsage"`
	Confidence     float64         `json:"confidence"`
	Citations      []CitationRef   `json:"citations,omitempty"`
}

// CitationRef maps an in-text citation marker back to the chunk it grounds.
type CitationRef struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Excerpt    string  `json:"excerpt"`
	Relevance  float64 `json:"relevance"`
	Index      int     `json:"index"`
}
