package model

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionPaused   SessionStatus = "PAUSED"
	SessionArchived SessionStatus = "ARCHIVED"
	SessionExpired  SessionStatus = "EXPIRED"
)

// ConversationSession is exclusively owned by its user. Lifecycle: created
// ACTIVE, transitions to PAUSED manually, ARCHIVED on user action, EXPIRED
// after idle beyond its TTL. Invariant: MessageCount <= MaxMessages;
// Status == EXPIRED implies no further writes are accepted.
type ConversationSession struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	CollectionID      string        `json:"collectionId"`
	Name              string        `json:"name"`
	Status            SessionStatus `json:"status"`
	ContextWindowSize int           `json:"contextWindowSize"`
	MaxMessages       int           `json:"maxMessages"`
	MessageCount      int           `json:"messageCount"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleSystem    MessageRole = "SYSTEM"
)

type MessageType string

const (
	TypeQuestion      MessageType = "QUESTION"
	TypeAnswer        MessageType = "ANSWER"
	TypeFollowUp      MessageType = "FOLLOW_UP"
	TypeClarification MessageType = "CLARIFICATION"
	TypeSystem        MessageType = "SYSTEM"
)

// MessageMetadata is a tagged-variant bag keyed by the message Type; only
// fields relevant to that type are populated. Schema validation happens at
// the boundary that deserializes the Config field (see ConfigOverride).
type MessageMetadata struct {
	Sources  []QueryResult   `json:"sources,omitempty"`
	Usage    *LLMUsage       `json:"usage,omitempty"`
	Warnings []TokenWarning  `json:"warnings,omitempty"`
	CoTSteps []ReasoningStep `json:"cotSteps,omitempty"`
	Config   *ConfigOverride `json:"config,omitempty"`
}

// Message is append-only within a session.
type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Role      MessageRole     `json:"role"`
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"createdAt"`
	Metadata  MessageMetadata `json:"metadata"`
}

// ConfigOverrideWhitelist is the set of metadata.config keys a
// ConversationMessageRequest may carry (spec.md §4.9). Any other key is
// dropped and logged.
var ConfigOverrideWhitelist = map[string]struct{}{
	"cot_enabled":              {},
	"show_cot_steps":           {},
	"structured_output_enabled": {},
	"conversation_aware":       {},
	"conversation_context":     {},
	"message_history":          {},
	"conversation_entities":    {},
}

// ConfigOverride is the validated, whitelisted subset of a per-request
// config override. Nil fields mean "not supplied"; see ResolveOverride.
type ConfigOverride struct {
	CoTEnabled               *bool           `json:"cot_enabled,omitempty"`
	ShowCoTSteps             *bool           `json:"show_cot_steps,omitempty"`
	StructuredOutputEnabled  *bool           `json:"structured_output_enabled,omitempty"`
	ConversationAware        *bool           `json:"conversation_aware,omitempty"`
	ConversationContext      json.RawMessage `json:"conversation_context,omitempty"`
	MessageHistory           json.RawMessage `json:"message_history,omitempty"`
	ConversationEntities     json.RawMessage `json:"conversation_entities,omitempty"`
}

// ConversationContext is derived per request, never persisted between
// requests. Entities maps an entity name to the turn index (within
// LastTurns) it was first mentioned.
type ConversationContext struct {
	SessionID      string         `json:"sessionId"`
	WindowText     string         `json:"windowText"`
	RelevantDocIDs []string       `json:"relevantDocIds"`
	Entities       map[string]int `json:"entities"`
	LastTurns      []Message      `json:"lastTurns"`
}
