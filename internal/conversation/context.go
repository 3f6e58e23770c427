// Package conversation implements C9: the ConversationContextManager —
// turn log, truncation, entity carry-over, and pronoun-resolution question
// enhancement for follow-ups (spec.md §4.9).
//
// Grounded on the teacher's internal/service/session.go
// (persistence-interface style) and internal/repository/session.go,
// generalized from a single "active session" topic tracker into a full
// append-only message log with truncation and entity carry-over. The
// manager itself is purely functional over the message log — no caches
// survive a request (spec.md §4.9 closing line) — persistence of the
// entity frequency map lives in internal/repository (Neo4j-backed, per
// SPEC_FULL.md's DOMAIN STACK).
package conversation

import (
	"context"
	"regexp"
	"strings"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/tokens"
)

// SessionRepository is the persistence boundary the manager reads/writes
// through. Implemented by internal/repository's Postgres-backed session
// store.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error)
	LastMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg model.Message) (*model.ConversationSession, error)
}

// EntityStore persists the carried-forward entity frequency map so it
// survives process restarts (spec.md §9 supplement: Neo4j-backed entity
// graph, generalizing the teacher's in-memory-only session.go).
type EntityStore interface {
	LoadEntities(ctx context.Context, sessionID string) (map[string]int, error)
	SaveEntities(ctx context.Context, sessionID string, entities map[string]int) error
}

// Manager builds a ConversationContext per turn from a session's message
// log (spec.md §4.9).
type Manager struct {
	sessions SessionRepository
	entities EntityStore
	counter  *tokens.Counter
}

// New creates a Manager.
func New(sessions SessionRepository, entities EntityStore, counter *tokens.Counter) *Manager {
	return &Manager{sessions: sessions, entities: entities, counter: counter}
}

// recentEntityTurnWindow is how many trailing turns entity extraction
// scans (spec.md §4.9 step 3: "last 5 turns").
const recentEntityTurnWindow = 5

// properNounRe is a coarse named-entity heuristic: capitalized word runs
// of 1-4 words not at sentence start punctuation. Real NER would replace
// this; the contract this package exposes (an entity->turn map) is what
// spec.md fixes, not the extraction algorithm.
var properNounRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*){0,3})\b`)

var pronounRe = regexp.MustCompile(`(?i)\b(it|its|they|them|their|this|that|he|she|him|her)\b`)

// Build assembles a ConversationContext for the next turn: loads the
// session's last MaxMessages messages, truncates from the oldest turn
// until the remainder fits within ContextWindowSize*0.8 tokens, extracts
// entities from the last 5 turns, and — if question contains a pronoun and
// the previous assistant turn mentions a recent entity — produces a
// rewritten suggestion (spec.md §4.9).
//
// Returns the context, the rewritten question (equal to question if no
// rewrite applies), and an optional CONTEXT_TRUNCATED warning.
func (m *Manager) Build(ctx context.Context, session *model.ConversationSession, question string) (*model.ConversationContext, string, *model.TokenWarning, error) {
	turns, err := m.sessions.LastMessages(ctx, session.ID, session.MaxMessages)
	if err != nil {
		return nil, question, nil, err
	}

	budget := int(float64(session.ContextWindowSize) * 0.8)
	kept, droppedTokens, truncated := truncateToFit(turns, budget, m.counter, session.ID)

	entities := extractEntities(kept, recentEntityTurnWindow)
	if m.entities != nil {
		if persisted, err := m.entities.LoadEntities(ctx, session.ID); err == nil {
			for name, turn := range persisted {
				if existing, ok := entities[name]; !ok || turn > existing {
					entities[name] = turn
				}
			}
		}
	}

	convCtx := &model.ConversationContext{
		SessionID:      session.ID,
		WindowText:     joinTurns(kept),
		RelevantDocIDs: relevantDocIDs(kept),
		Entities:       entities,
		LastTurns:      kept,
	}

	rewritten := question
	if pronounRe.MatchString(question) {
		if entity := mostRecentAssistantEntity(kept, entities); entity != "" {
			rewritten = pronounRe.ReplaceAllString(question, entity)
		}
	}

	if m.entities != nil {
		_ = m.entities.SaveEntities(ctx, session.ID, entities)
	}

	var warning *model.TokenWarning
	if truncated {
		warning = tokens.ContextTruncated(droppedTokens, session.ContextWindowSize)
	}

	return convCtx, rewritten, warning, nil
}

// truncateToFit drops the oldest turns until the remaining concatenation
// fits the token budget (spec.md §4.9 step 2). Returns the kept turns
// (oldest-first, same order as input), the token count dropped, and
// whether any truncation occurred.
func truncateToFit(turns []model.Message, budget int, counter *tokens.Counter, modelFamily string) ([]model.Message, int, bool) {
	if budget <= 0 || len(turns) == 0 {
		return turns, 0, false
	}

	total := 0
	costs := make([]int, len(turns))
	for i, t := range turns {
		costs[i] = counter.Count(modelFamily, t.Content)
		total += costs[i]
	}
	if total <= budget {
		return turns, 0, false
	}

	dropped := 0
	start := 0
	for total > budget && start < len(turns)-1 {
		dropped += costs[start]
		total -= costs[start]
		start++
	}
	return turns[start:], dropped, true
}

func joinTurns(turns []model.Message) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func relevantDocIDs(turns []model.Message) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, t := range turns {
		for _, src := range t.Metadata.Sources {
			if _, ok := seen[src.ChunkRef.DocumentID]; ok {
				continue
			}
			seen[src.ChunkRef.DocumentID] = struct{}{}
			ids = append(ids, src.ChunkRef.DocumentID)
		}
	}
	return ids
}

// extractEntities scans the last window turns for capitalized-phrase
// candidates and records, for each, the earliest turn index (within turns)
// it was first mentioned — "entities: {name -> first_mention_turn}"
// (spec.md §3).
func extractEntities(turns []model.Message, window int) map[string]int {
	start := 0
	if len(turns) > window {
		start = len(turns) - window
	}
	entities := make(map[string]int)
	for i := start; i < len(turns); i++ {
		for _, m := range properNounRe.FindAllString(turns[i].Content, -1) {
			name := strings.TrimSpace(m)
			if isStopPhrase(name) {
				continue
			}
			if _, ok := entities[name]; !ok {
				entities[name] = i
			}
		}
	}
	return entities
}

var stopPhrases = map[string]struct{}{
	"I": {}, "The": {}, "A": {}, "It": {}, "This": {}, "That": {},
}

func isStopPhrase(s string) bool {
	_, ok := stopPhrases[s]
	return ok
}

// mostRecentAssistantEntity returns the entity the previous ASSISTANT turn
// mentions with the highest recency (spec.md §4.9 step 4: "previous
// assistant turn mentions an entity with high recency").
func mostRecentAssistantEntity(turns []model.Message, entities map[string]int) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != model.RoleAssistant {
			continue
		}
		best := ""
		bestTurn := -1
		for name, turn := range entities {
			if turn > bestTurn && strings.Contains(turns[i].Content, name) {
				bestTurn = turn
				best = name
			}
		}
		return best
	}
	return ""
}
