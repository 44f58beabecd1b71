package chains

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// SemanticChain answers qualitative questions by nearest-neighbour search
// over transcript chunks.
type SemanticChain struct {
	embedder  service.Embedder
	index     service.VectorIndex
	cache     ports.Cache // optional question embedding cache
	cacheTTL  int
	assembler *harness.ContextAssembler
	topK      int
	minScore  float64
	metrics   *service.MetricsCollector
	logger    zerolog.Logger
}

// SemanticOptions tunes the semantic chain.
type SemanticOptions struct {
	TopK             int
	MinScore         float64
	MaxContextTokens int
	MaxSnippets      int
	Cache            ports.Cache
	CacheTTLSeconds  int
}

// NewSemanticChain wires the semantic retrieval chain.
func NewSemanticChain(embedder service.Embedder, index service.VectorIndex, opts SemanticOptions, metrics *service.MetricsCollector, logger zerolog.Logger) *SemanticChain {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 3000
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = opts.TopK
	}
	return &SemanticChain{
		embedder:  embedder,
		index:     index,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTLSeconds,
		assembler: harness.NewContextAssembler(harness.Budget{MaxContextTokens: opts.MaxContextTokens, MaxSnippets: opts.MaxSnippets}, nil),
		topK:      opts.TopK,
		minScore:  opts.MinScore,
		metrics:   metrics,
		logger:    logger.With().Str("component", "semantic_chain").Logger(),
	}
}

// Retrieve embeds question and returns the best matching chunks as context.
// No match is a valid, empty result.
func (c *SemanticChain) Retrieve(ctx context.Context, question string) (res *Result, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRetrieval(egr.SourceSemantic, time.Since(start), err) }()

	vec, err := c.embed(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := c.index.Query(ctx, vec, c.topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &egr.StoreConnectivityError{Store: "vector", Err: err}
	}

	snippets := make([]harness.Snippet, 0, len(hits))
	for _, r := range hits {
		if r.Score < c.minScore {
			continue
		}
		h := r.Hit()
		snippets = append(snippets, harness.Snippet{
			Text:     renderChunk(h),
			Score:    h.Score,
			Source:   h.ChunkID,
			CitedIDs: []string{h.ChunkID, h.EpisodeID},
		})
	}

	packed := c.assembler.PackSnippets(snippets, nil)
	res = &Result{Context: make([]string, 0, len(packed))}
	var cited, titles []string
	for _, sn := range packed {
		res.Context = append(res.Context, sn.Text)
		cited = append(cited, sn.CitedIDs...)
		for _, r := range hits {
			if r.ID == sn.Source {
				titles = append(titles, r.Hit().EpisodeTitle)
				break
			}
		}
	}
	res.CitedIDs = dedupeStrings(cited)
	if res.CitedIDs == nil {
		res.CitedIDs = []string{}
	}
	res.Titles = dedupeStrings(titles)

	c.logger.Debug().Int("hits", len(hits)).Int("packed", len(packed)).Msg("semantic retrieval complete")
	return res, nil
}

func (c *SemanticChain) embed(ctx context.Context, question string) ([]float64, error) {
	key := embeddingCacheKey(question)
	if c.cache != nil {
		if b, ok := c.cache.Get(ctx, key); ok {
			var vec []float64
			if err := json.Unmarshal(b, &vec); err == nil {
				return vec, nil
			}
		}
	}

	vecs, err := c.embedder.Embed(ctx, []string{question})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, egr.NewGenerationError("embed", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, egr.NewGenerationError("embed", fmt.Errorf("embedder returned %d vectors", len(vecs)))
	}

	if c.cache != nil {
		if b, err := json.Marshal(vecs[0]); err == nil {
			if err := c.cache.Set(ctx, key, b, c.cacheTTL); err != nil {
				c.logger.Debug().Err(err).Msg("failed to cache embedding")
			}
		}
	}
	return vecs[0], nil
}

func embeddingCacheKey(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return "embed:" + hex.EncodeToString(sum[:])
}

// renderChunk formats a hit as a context block the synthesizer can cite.
func renderChunk(h service.ChunkHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title: %s\n", h.EpisodeTitle)
	if h.EpisodeURL != "" {
		fmt.Fprintf(&b, "url: %s\n", h.EpisodeURL)
	}
	if h.EpisodeDate != "" {
		fmt.Fprintf(&b, "date: %s\n", h.EpisodeDate)
	}
	fmt.Fprintf(&b, "source: %s\n", h.ChunkID)
	b.WriteString(h.Text)
	return b.String()
}
