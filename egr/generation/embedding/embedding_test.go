package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
)

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req openaiEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "key", "m", 2, time.Second)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, e.Dimension())
}

func TestOpenAIEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder(srv.URL, "", "m", 0, time.Second).Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "status 503")
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Write([]byte(`{"embeddings":[[0.5,0.5,0]]}`))
	}))
	defer srv.Close()

	vecs, err := NewOllamaEmbedder(srv.URL, "m", 3, time.Second).Embed(context.Background(), []string{"astro"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.5, 0}}, vecs)

	// configured dimension mismatch is an error
	_, err = NewOllamaEmbedder(srv.URL, "m", 4, time.Second).Embed(context.Background(), []string{"astro"})
	assert.ErrorContains(t, err, "dimension 3")
}

func TestEmbedEmptyInput(t *testing.T) {
	vecs, err := NewOllamaEmbedder("http://127.0.0.1:1", "m", 3, time.Second).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCheckBatch(t *testing.T) {
	assert.NoError(t, checkBatch([][]float64{{1}}, 1, 0))
	assert.Error(t, checkBatch([][]float64{{1}}, 2, 0))
	assert.Error(t, checkBatch([][]float64{{}}, 1, 0))
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, config.EmbeddingConfig{Provider: "ollama", Dims: 768})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEmbedder{}, e)

	e, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	_, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: "genai"})
	assert.ErrorContains(t, err, "API key")

	e, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: "genai", APIKey: "k", Dims: 768})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())

	_, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: "hugot"})
	assert.Error(t, err)
}

func TestGenAITaskType(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_QUERY", genaiTaskType(""))
	assert.Equal(t, "SEMANTIC_SIMILARITY", genaiTaskType("SEMANTIC_SIMILARITY"))
}
