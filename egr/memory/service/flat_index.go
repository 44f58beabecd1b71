package service

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// ChunkIndex implements VectorIndex over chunks.embedding. When the engine
// provides vector_distance_cos the ranking runs in SQL; otherwise every
// embedding is scanned and ranked in process.
type ChunkIndex struct {
	db        *sql.DB
	dimension int
	native    bool
	logger    zerolog.Logger
}

// NewChunkIndex creates a chunk index. dimension 0 accepts any vector length;
// native selects the vector_distance_cos path.
func NewChunkIndex(conn *sql.DB, dimension int, native bool, logger zerolog.Logger) *ChunkIndex {
	return &ChunkIndex{
		db:        conn,
		dimension: dimension,
		native:    native,
		logger:    logger.With().Str("component", "chunk_index").Logger(),
	}
}

// Upsert stores the embedding of an existing chunk.
func (f *ChunkIndex) Upsert(ctx context.Context, chunkID string, vector []float64) error {
	if f.dimension > 0 && len(vector) != f.dimension {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", f.dimension, len(vector))
	}

	result, err := f.db.ExecContext(ctx, "UPDATE chunks SET embedding = ? WHERE id = ?", EncodeVector(vector), chunkID)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chunk not found: %s", chunkID)
	}
	return nil
}

// Query returns the k chunks most similar to embedding, best first. Scores
// are cosine similarities.
func (f *ChunkIndex) Query(ctx context.Context, embedding []float64, k int) ([]SearchResult, error) {
	if f.dimension > 0 && len(embedding) != f.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", f.dimension, len(embedding))
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	if f.native {
		results, err := f.queryNative(ctx, embedding, k)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn().Err(err).Msg("native vector search failed, falling back to scan")
	}
	return f.queryScan(ctx, embedding, k)
}

const chunkSelect = `
	SELECT c.id, c.episode_id, c.text, e.title, e.url, COALESCE(e.date, '')%s
	FROM chunks c
	JOIN episodes e ON e.id = c.episode_id
	WHERE c.embedding IS NOT NULL`

func (f *ChunkIndex) queryNative(ctx context.Context, embedding []float64, k int) ([]SearchResult, error) {
	query := fmt.Sprintf(chunkSelect, ", vector_distance_cos(c.embedding, vector32(?)) AS distance") +
		" ORDER BY distance ASC LIMIT ?"

	rows, err := f.db.QueryContext(ctx, query, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, k)
	for rows.Next() {
		var (
			r        chunkRow
			distance float64
		)
		if err := rows.Scan(&r.id, &r.episodeID, &r.text, &r.title, &r.url, &r.date, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r.result(1-distance, "vector_native"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func (f *ChunkIndex) queryScan(ctx context.Context, embedding []float64, k int) ([]SearchResult, error) {
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf(chunkSelect, ", c.embedding"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vectors: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		row   chunkRow
		score float64
	}
	var candidates []candidate

	for rows.Next() {
		var (
			r    chunkRow
			blob []byte
		)
		if err := rows.Scan(&r.id, &r.episodeID, &r.text, &r.title, &r.url, &r.date, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		vector, err := DecodeVector(blob)
		if err != nil || len(vector) != len(embedding) {
			continue // Skip invalid vectors and dimension mismatches
		}
		candidates = append(candidates, candidate{row: r, score: cosineSimilarity(embedding, vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if k > len(candidates) {
		k = len(candidates)
	}

	results := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		results[i] = candidates[i].row.result(candidates[i].score, "vector_flat")
	}
	return results, nil
}

type chunkRow struct {
	id, episodeID, text, title, url, date string
}

func (r chunkRow) result(score float64, provenance string) SearchResult {
	return SearchResult{
		ID:    r.id,
		Score: score,
		Metadata: map[string]any{
			"episode_id": r.episodeID,
			"text":       r.text,
			"title":      r.title,
			"url":        r.url,
			"date":       r.date,
		},
		Provenance: provenance,
	}
}

// EncodeVector packs v as little-endian float32, the libSQL vector32 layout.
func EncodeVector(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(x)))
	}
	return buf
}

// DecodeVector unpacks a vector32 blob.
func DecodeVector(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	v := make([]float64, len(b)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return v, nil
}

func vectorLiteral(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

var _ VectorIndex = (*ChunkIndex)(nil)
