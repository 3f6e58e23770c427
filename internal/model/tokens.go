package model

import "time"

// LLMService identifies which component consumed an LLM call, for per-service
// usage reporting.
type LLMService string

const (
	ServiceSearch       LLMService = "SEARCH"
	ServiceConversation LLMService = "CONVERSATION"
	ServiceCoT          LLMService = "COT"
	ServiceQuestionGen  LLMService = "QUESTION_GEN"
	ServicePodcastScript LLMService = "PODCAST_SCRIPT"
)

// LLMUsage always comes from a provider response; never estimated.
type LLMUsage struct {
	PromptTokens     int        `json:"promptTokens"`
	CompletionTokens int        `json:"completionTokens"`
	TotalTokens      int        `json:"totalTokens"`
	ModelID          string     `json:"modelId"`
	Service          LLMService `json:"service"`
	At               time.Time  `json:"at"`
	UserID           string     `json:"userId,omitempty"`
	SessionID        string     `json:"sessionId,omitempty"`
}

// Add returns the element-wise sum of two usages, keeping the receiver's
// ModelID/Service/At/UserID/SessionID.
func (u LLMUsage) Add(other LLMUsage) LLMUsage {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	return u
}

type WarningKind string

const (
	WarningApproaching70      WarningKind = "APPROACHING_70"
	WarningApproaching85      WarningKind = "APPROACHING_85"
	WarningAt95               WarningKind = "AT_95"
	WarningConversationTooLong WarningKind = "CONVERSATION_TOO_LONG"
	WarningContextTruncated   WarningKind = "CONTEXT_TRUNCATED"
)

type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "info"
	SeverityWarning  WarningSeverity = "warning"
	SeverityCritical WarningSeverity = "critical"
)

// TokenWarning is attached to a response; it never aborts the request.
type TokenWarning struct {
	Kind            WarningKind     `json:"kind"`
	Current         int             `json:"current"`
	Limit           int             `json:"limit"`
	Pct             float64         `json:"pct"`
	Severity        WarningSeverity `json:"severity"`
	SuggestedAction string          `json:"suggestedAction,omitempty"`
}
