package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// rrfK is the standard Reciprocal Rank Fusion constant, adapted from the
// teacher's internal/service/retriever.go reciprocalRankFusion.
const rrfK = 60

// Distance selects the vector distance metric configured per collection
// (spec.md §4.2).
type Distance string

const (
	DistanceL2  Distance = "L2"
	DistanceCos Distance = "COS"
	DistanceIP  Distance = "IP"
)

// VectorStore implements C2's contract against Postgres+pgvector, with an
// additional hybrid BM25 fusion path. Grounded on the teacher's
// internal/repository/chunk.go and bm25.go, generalized from per-user
// ownership filtering to per-collection scoping.
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore creates a VectorStore over an existing pool.
func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

// Upsert stores chunks with their embedding vectors, replacing any existing
// row with the same id.
func (s *VectorStore) Upsert(ctx context.Context, collectionID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, c := range chunks {
		embedding := pgvector.NewVector(c.Embedding)
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, collection_id, chunk_index, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, collectionID, c.Metadata.Offset, c.Text, embedding, c.Metadata.Type, now,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.Upsert: chunk %d: %w", i, err)
		}
	}
	return nil
}

// SearchFilters narrows a vector search to a subset of documents within the
// collection.
type SearchFilters struct {
	DocumentIDs []string
}

// Search performs a pure vector similarity search scoped to collectionID,
// implementing C2's minimal contract: results sorted by distance, limited to
// topK.
func (s *VectorStore) Search(ctx context.Context, collectionID string, queryVec []float32, topK int, filters *SearchFilters) ([]model.QueryResult, error) {
	embedding := pgvector.NewVector(queryVec)

	query := `
		SELECT dc.id, dc.document_id, dc.chunk_index, dc.content, dc.metadata, dc.created_at,
			1 - (dc.embedding <=> $1::vector) AS similarity
		FROM document_chunks dc
		WHERE dc.collection_id = $2`
	args := []interface{}{embedding, collectionID}

	if filters != nil && len(filters.DocumentIDs) > 0 {
		query += fmt.Sprintf(" AND dc.document_id = ANY($%d)", len(args)+1)
		args = append(args, filters.DocumentIDs)
	}

	query += fmt.Sprintf(" ORDER BY dc.embedding <=> $1::vector LIMIT $%d", len(args)+1)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.Search: %w", err)
	}
	defer rows.Close()

	var results []model.QueryResult
	for rows.Next() {
		var qr model.QueryResult
		var offset int
		var typ string
		if err := rows.Scan(&qr.ChunkRef.ID, &qr.ChunkRef.DocumentID, &offset, &qr.ChunkRef.Text, &typ, &qr.ChunkRef.CreatedAt, &qr.Score); err != nil {
			return nil, fmt.Errorf("repository.Search: scan: %w", err)
		}
		qr.ChunkRef.Metadata.Offset = offset
		qr.ChunkRef.Metadata.Type = typ
		qr.ChunkRef.CollectionID = collectionID
		qr.Source = model.SourceVector
		results = append(results, qr)
	}
	return results, nil
}

// fullTextSearch performs BM25-style ranking via Postgres ts_rank_cd, adapted
// from the teacher's internal/repository/bm25.go.
func (s *VectorStore) fullTextSearch(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dc.id, dc.document_id, dc.chunk_index, dc.content, dc.metadata, dc.created_at,
			ts_rank_cd(to_tsvector('english', dc.content), plainto_tsquery('english', $1)) AS rank
		FROM document_chunks dc
		WHERE dc.collection_id = $2
			AND to_tsvector('english', dc.content) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $3`, query, collectionID, topK)
	if err != nil {
		return nil, fmt.Errorf("repository.fullTextSearch: %w", err)
	}
	defer rows.Close()

	var results []model.QueryResult
	for rows.Next() {
		var qr model.QueryResult
		var offset int
		var typ string
		if err := rows.Scan(&qr.ChunkRef.ID, &qr.ChunkRef.DocumentID, &offset, &qr.ChunkRef.Text, &typ, &qr.ChunkRef.CreatedAt, &qr.Score); err != nil {
			return nil, fmt.Errorf("repository.fullTextSearch: scan: %w", err)
		}
		qr.ChunkRef.Metadata.Offset = offset
		qr.ChunkRef.Metadata.Type = typ
		qr.ChunkRef.CollectionID = collectionID
		qr.Source = model.SourceVector
		results = append(results, qr)
	}
	return results, nil
}

// HybridSearch runs vector and BM25 search concurrently and fuses the two
// ranked lists with Reciprocal Rank Fusion (k=60), the same constant and
// formula as the teacher's reciprocalRankFusion. When queryText is empty,
// this degrades to a pure vector search.
func (s *VectorStore) HybridSearch(ctx context.Context, collectionID string, queryVec []float32, queryText string, topK int) ([]model.QueryResult, error) {
	var vectorResults, bm25Results []model.QueryResult

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = s.Search(gCtx, collectionID, queryVec, topK, nil)
		return err
	})
	if queryText != "" {
		g.Go(func() error {
			var err error
			bm25Results, err = s.fullTextSearch(gCtx, collectionID, queryText, topK)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("repository.HybridSearch: %w", err)
	}

	slog.Info("[PIPELINE] hybrid search candidates", "collection_id", collectionID, "vector", len(vectorResults), "bm25", len(bm25Results))

	if len(bm25Results) == 0 {
		return vectorResults, nil
	}
	return reciprocalRankFusion(vectorResults, bm25Results), nil
}

// reciprocalRankFusion combines two ranked lists: score = sum(1/(k+rank+1))
// for each list a chunk appears in. k=60 is the standard RRF constant.
func reciprocalRankFusion(lists ...[]model.QueryResult) []model.QueryResult {
	scores := make(map[string]float64)
	items := make(map[string]model.QueryResult)

	for _, list := range lists {
		for rank, item := range list {
			id := item.ChunkRef.ID
			scores[id] += 1.0 / float64(rrfK+rank+1)
			if _, ok := items[id]; !ok {
				items[id] = item
			}
		}
	}

	type scored struct {
		item  model.QueryResult
		score float64
	}
	sorted := make([]scored, 0, len(items))
	for id, item := range items {
		sorted = append(sorted, scored{item, scores[id]})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	out := make([]model.QueryResult, len(sorted))
	for i, s := range sorted {
		s.item.Score = s.score
		s.item.Source = model.SourceHybrid
		out[i] = s.item
	}
	return out
}

// DeleteByDocumentID removes all chunks for a document.
func (s *VectorStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("repository.DeleteByDocumentID: %w", err)
	}
	return nil
}

// CountByCollection returns the number of distinct documents with at least
// one chunk in the collection, used to enforce podcast submission's
// min_documents validation gate.
func (s *VectorStore) CountByCollection(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(DISTINCT document_id) FROM document_chunks WHERE collection_id = $1`, collectionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository.CountByCollection: %w", err)
	}
	return count, nil
}
