package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// EntityGraph persists C9's per-session entity map (entity name ->
// first-mention turn index) as a small graph
// (Entity)-[:MENTIONED_IN {count}]->(Session), the turn index being stored
// in the relationship's count property, so carry-over entity
// resolution survives a process restart instead of living only in the
// request-scoped conversation.Manager. This is the teacher's
// neo4j-go-driver dependency, previously unused in the core query path,
// given a concrete home (spec.md's entity carry-over has no natural fit in
// the relational schema since its shape is a map keyed by
// free-text entity name, not a fixed column set).
type EntityGraph struct {
	driver neo4j.DriverWithContext
}

// NewEntityGraph wraps an already-connected driver.
func NewEntityGraph(driver neo4j.DriverWithContext) *EntityGraph {
	return &EntityGraph{driver: driver}
}

// LoadEntities returns the persisted entity -> first-mention turn map for a
// session, or an empty map if the session has no recorded entities yet.
func (g *EntityGraph) LoadEntities(ctx context.Context, sessionID string) (map[string]int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		records, err := tx.Run(ctx, `
			MATCH (e:Entity)-[m:MENTIONED_IN]->(:Session {id: $sessionID})
			RETURN e.name AS name, m.count AS count`,
			map[string]interface{}{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}
		out := make(map[string]int)
		for records.Next(ctx) {
			rec := records.Record()
			name, _ := rec.Get("name")
			count, _ := rec.Get("count")
			n, _ := name.(string)
			c, _ := count.(int64)
			out[n] = int(c)
		}
		return out, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("repository.EntityGraph.LoadEntities: %w", err)
	}
	return result.(map[string]int), nil
}

// SaveEntities upserts entities' turn indices for sessionID, replacing prior
// values (the caller always passes the manager's full recomputed map, not a
// delta).
func (g *EntityGraph) SaveEntities(ctx context.Context, sessionID string, entities map[string]int) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		if _, err := tx.Run(ctx, `MERGE (:Session {id: $sessionID})`, map[string]interface{}{"sessionID": sessionID}); err != nil {
			return nil, err
		}
		for name, count := range entities {
			_, err := tx.Run(ctx, `
				MATCH (s:Session {id: $sessionID})
				MERGE (e:Entity {name: $name})
				MERGE (e)-[m:MENTIONED_IN]->(s)
				SET m.count = $count`,
				map[string]interface{}{"sessionID": sessionID, "name": name, "count": count})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("repository.EntityGraph.SaveEntities: %w", err)
	}
	return nil
}
