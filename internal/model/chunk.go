package model

import "time"

// Chunk is a fragment of an ingested document, produced by ingestion and
// read-only to the query-time core. Embedding dimension must match the
// collection's configured embedder; Text must be non-empty.
type Chunk struct {
	ID           string                 `json:"id"`
	DocumentID   string                 `json:"docId"`
	CollectionID string                 `json:"collectionId"`
	Text         string                 `json:"text"`
	Embedding    []float32              `json:"-"`
	Metadata     ChunkMetadata          `json:"metadata"`
	CreatedAt    time.Time              `json:"createdAt"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// ChunkMetadata carries positional information ingestion attached to a chunk.
type ChunkMetadata struct {
	Page    *int   `json:"page,omitempty"`
	Section *string `json:"section,omitempty"`
	Offset  int    `json:"offset"`
	Type    string `json:"type"`
}

// QueryResultSource identifies which stage produced a QueryResult.
type QueryResultSource string

const (
	SourceVector QueryResultSource = "vector"
	SourceRerank QueryResultSource = "rerank"
	SourceHybrid QueryResultSource = "hybrid"
)

// QueryResult is a scored reference to a Chunk. Lists of QueryResult are
// sorted by Score descending; ties break by insertion order (stable sort).
type QueryResult struct {
	ChunkRef Chunk             `json:"chunkRef"`
	Score    float64           `json:"score"`
	Source   QueryResultSource `json:"source"`
}

// Document is the minimal read-only shape the core needs about a document
// that owns a chunk (name, for the SearchResponse `documents` field).
// Full document CRUD lives outside this module's scope.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
