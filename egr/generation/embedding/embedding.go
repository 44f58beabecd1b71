// Package embedding provides question embedders for semantic retrieval.
// Supports OpenAI-compatible endpoints, Ollama and Google GenAI.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (service.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims, cfg.Timeout), nil
	case "ollama", "":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dims, cfg.Timeout), nil
	case "genai":
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.TaskType, cfg.BaseURL, cfg.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// checkBatch verifies that a backend returned one vector of the expected
// dimension per input. dims <= 0 skips the dimension check.
func checkBatch(vecs [][]float64, inputs, dims int) error {
	if len(vecs) != inputs {
		return fmt.Errorf("expected %d embeddings, got %d", inputs, len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("embedding %d is empty", i)
		}
		if dims > 0 && len(v) != dims {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dims)
		}
	}
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
