package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 60))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 60))
	_, ok := c.Get(ctx, "a") // a becomes most recent
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 60))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCacheExpires(t *testing.T) {
	c := NewLRUCache(4, nil)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10))
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, ok = c.Get(ctx, "forever")
	assert.True(t, ok, "non-positive ttl never expires")
}

func TestLRUCacheReportsEvents(t *testing.T) {
	var events []string
	c := NewLRUCache(1, func(event string) { events = append(events, event) })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 60))
	c.Get(ctx, "a")
	c.Get(ctx, "missing")
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 60))

	assert.Equal(t, []string{CacheHit, CacheMiss, CacheEviction}, events)
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, time.Second)
	now := time.Now()
	tb.now = func() time.Time { return now }
	ctx := context.Background()

	r1, err := tb.Acquire(ctx, "llm")
	require.NoError(t, err)
	_, err = tb.Acquire(ctx, "llm")
	require.NoError(t, err)

	_, err = tb.Acquire(ctx, "llm")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// other keys have their own bucket
	_, err = tb.Acquire(ctx, "other")
	assert.NoError(t, err)

	r1()
	r1() // release is idempotent
	_, err = tb.Acquire(ctx, "llm")
	require.NoError(t, err)
	_, err = tb.Acquire(ctx, "llm")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	now = now.Add(time.Second)
	_, err = tb.Acquire(ctx, "llm")
	assert.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tb.Acquire(cancelled, "fresh")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZerologTracerSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	ctx, finish := tracer.StartSpan(context.Background(), "answer", map[string]any{"session_id": "s1"})
	tracer.Event(ctx, "routed", map[string]any{"tool": "semantic_retrieval"})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"span":"answer"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"event":"routed"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "semantic_retrieval", "arguments": "{\"question\":\"astro\"}"}}]
			}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "sk-test", "gpt-4o-mini", 0, 256, time.Second)
	out, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "route",
		Context:  []string{"block"},
		Messages: []ports.PromptMessage{{Role: "user", Content: "what is astro?"}},
		Tools:    []ports.ToolSpec{{Name: "semantic_retrieval", Description: "d", JSONSchema: []byte(`{"type":"object"}`)}},
	}, ports.Options{ResponseFormat: "json_object", ToolChoice: "auto"})
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "semantic_retrieval", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"question":"astro"}`, string(out.ToolCalls[0].Args))
	assert.Equal(t, 15, out.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "Context:\nblock", got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
}

func TestOpenAIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "", "m", 0, 0, time.Second)
	_, err := p.Complete(context.Background(), ports.PromptInput{}, ports.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer empty.Close()

	_, err = NewOpenAIProvider(empty.URL, "", "m", 0, 0, time.Second).Complete(context.Background(), ports.PromptInput{}, ports.Options{})
	assert.ErrorContains(t, err, "no choices")
}
