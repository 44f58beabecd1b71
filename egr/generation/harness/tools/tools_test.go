package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/chains"
)

type stubRetriever struct {
	res       *chains.Result
	err       error
	questions []string
}

func (r *stubRetriever) Retrieve(ctx context.Context, question string) (*chains.Result, error) {
	r.questions = append(r.questions, question)
	return r.res, r.err
}

func TestRetrievalToolsInvoke(t *testing.T) {
	chain := &stubRetriever{res: &chains.Result{
		Context:  []string{`{"_id":"episode:a","title":"A"}`},
		CitedIDs: []string{"episode:a"},
		Titles:   []string{"A"},
	}}
	tool := NewStructuredRetrievalTool(chain)

	res, err := tool.Invoke(context.Background(), json.RawMessage(`{"question": "  latest episode?  "}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"latest episode?"}, chain.questions)
	assert.Equal(t, []string{"episode:a"}, res.CitedIDs)
	assert.Equal(t, []string{"A"}, res.Titles)
	assert.False(t, res.Empty())

	assert.Equal(t, StructuredRetrievalName, tool.Name())
	assert.Equal(t, egr.SourceStructured, tool.Source())
	assert.Equal(t, egr.SourceSemantic, NewSemanticRetrievalTool(chain).Source())
	assert.True(t, json.Valid(tool.Schema()))
}

func TestRetrievalToolsRejectBadArgs(t *testing.T) {
	chain := &stubRetriever{}
	tool := NewSemanticRetrievalTool(chain)

	_, err := tool.Invoke(context.Background(), json.RawMessage(`{"question": ""}`))
	assert.Error(t, err)
	_, err = tool.Invoke(context.Background(), json.RawMessage(`[1]`))
	assert.Error(t, err)
	assert.Empty(t, chain.questions)
}

func TestRetrievalToolsPassErrorsThrough(t *testing.T) {
	want := &egr.RetrievalExhaustedError{Attempts: 3}
	tool := NewStructuredRetrievalTool(&stubRetriever{err: want})

	_, err := tool.Invoke(context.Background(), json.RawMessage(`{"question": "q"}`))
	var got *egr.RetrievalExhaustedError
	require.ErrorAs(t, err, &got)
	assert.Same(t, want, got)
}
