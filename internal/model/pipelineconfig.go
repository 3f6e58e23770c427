package model

// PipelineConfig is created lazily with constant defaults on first use per
// user (C13 ConfigStore). Writes are last-writer-wins.
type PipelineConfig struct {
	UserID             string  `json:"userId"`
	Provider           string  `json:"provider"`
	ModelID            string  `json:"modelId"`
	MaxTokens          int     `json:"maxTokens"`
	Temperature        float64 `json:"temperature"`
	TopP               float64 `json:"topP"`
	TopKRetrieval      int     `json:"topKRetrieval"`
	TopKFinal          int     `json:"topKFinal"`
	RerankEnabled      bool    `json:"rerankEnabled"`
	RerankModel        string  `json:"rerankModel"`
	CoTEnabled         bool    `json:"cotEnabled"`
	CoTMaxDepth        int     `json:"cotMaxDepth"`
	CoTQualityThreshold float64 `json:"cotQualityThreshold"`
	CoTMaxRetries      int     `json:"cotMaxRetries"`
}

// DefaultPipelineConfig returns the constant defaults used on first lazy
// creation for a user (spec.md §4.13: "defaults are constants, not inferred").
func DefaultPipelineConfig(userID string) PipelineConfig {
	return PipelineConfig{
		UserID:              userID,
		Provider:            "vertex",
		ModelID:             "gemini-3-pro-preview",
		MaxTokens:           1024,
		Temperature:         0.2,
		TopP:                0.95,
		TopKRetrieval:       100,
		TopKFinal:           10,
		RerankEnabled:       true,
		RerankModel:         "vertex",
		CoTEnabled:          true,
		CoTMaxDepth:         3,
		CoTQualityThreshold: 0.6,
		CoTMaxRetries:       3,
	}
}
