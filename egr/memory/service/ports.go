package service

import "context"

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// VectorIndex answers nearest-neighbour queries over chunk embeddings.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float64, k int) ([]SearchResult, error)
}

// TypedStore executes read-only structured queries against the corpus.
// Query results are capped by the store; writes never persist.
type TypedStore interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Explain(ctx context.Context, query string) error
	Ping(ctx context.Context) error
}

// SchemaProvider returns a textual description of the typed store schema.
type SchemaProvider interface {
	Schema(ctx context.Context) (string, error)
}

// Row is a single result row keyed by column name. Column values are the
// driver values with JSON-looking strings already decoded.
type Row map[string]any

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Provenance string         `json:"provenance,omitempty"`
}

// ChunkHit is a SearchResult resolved to its chunk and episode attributes.
type ChunkHit struct {
	ChunkID      string
	EpisodeID    string
	EpisodeTitle string
	EpisodeURL   string
	EpisodeDate  string
	Text         string
	Score        float64
}

// Hit converts a search result produced by the chunk index into a ChunkHit.
func (r SearchResult) Hit() ChunkHit {
	str := func(k string) string {
		if v, ok := r.Metadata[k].(string); ok {
			return v
		}
		return ""
	}
	return ChunkHit{
		ChunkID:      r.ID,
		EpisodeID:    str("episode_id"),
		EpisodeTitle: str("title"),
		EpisodeURL:   str("url"),
		EpisodeDate:  str("date"),
		Text:         str("text"),
		Score:        r.Score,
	}
}
