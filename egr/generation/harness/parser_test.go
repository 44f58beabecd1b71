package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

func TestParseSQL(t *testing.T) {
	parser := NewOutputParser()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT e.id AS _id FROM episodes e LIMIT 10;", "SELECT e.id AS _id FROM episodes e LIMIT 10"},
		{"fenced", "```sql\nSELECT 1;\n```", "SELECT 1"},
		{"preamble", "Here is the query you asked for:\nSELECT e.title\nFROM episodes e;", "SELECT e.title\nFROM episodes e"},
		{"cte", "with recent AS (SELECT * FROM episodes) SELECT * FROM recent", "with recent AS (SELECT * FROM episodes) SELECT * FROM recent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.ParseSQL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parser.ParseSQL("I cannot write a query for that.")
	assert.Error(t, err)
}

func TestParseToolCalls(t *testing.T) {
	parser := NewOutputParser()

	calls := parser.ParseToolCalls(`[{"name": "semantic_retrieval", "arguments": {"question": "astro?"}}]`)
	require.Len(t, calls, 1)
	assert.Equal(t, "semantic_retrieval", calls[0].Name)
	assert.JSONEq(t, `{"question":"astro?"}`, string(calls[0].Args))

	calls = parser.ParseToolCalls(`I'll call structured_retrieval({question: "count episodes",})`)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"question":"count episodes"}`, string(calls[0].Args))

	assert.Empty(t, parser.ParseToolCalls("Sorry, that is outside what I can help with."))
}

func TestParseJSONOutput(t *testing.T) {
	parser := NewOutputParser()

	out, err := parser.ParseJSONOutput("```json\n{\"query\": \"SELECT 1\", \"errors\": []}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"SELECT 1","errors":[]}`, string(out))

	out, err = parser.ParseJSONOutput(`Sure! {"query": "SELECT 1", "errors": [],}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"SELECT 1","errors":[]}`, string(out))

	_, err = parser.ParseJSONOutput("no json here")
	assert.Error(t, err)
}

func TestGuardrails(t *testing.T) {
	g := NewGuardrails("structured_retrieval")
	schema := []byte(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`)

	assert.NoError(t, g.ValidateToolCall(ports.ToolCall{Name: "structured_retrieval", Args: json.RawMessage(`{"question":"q"}`)}, schema))
	assert.Error(t, g.ValidateToolCall(ports.ToolCall{Name: "semantic_retrieval", Args: json.RawMessage(`{"question":"q"}`)}, schema))
	assert.Error(t, g.ValidateToolCall(ports.ToolCall{Name: "structured_retrieval", Args: json.RawMessage(`{}`)}, schema))
	assert.Error(t, g.ValidateToolCall(ports.ToolCall{Name: "structured_retrieval", Args: json.RawMessage(`{"question":`)}, schema))

	assert.NotContains(t, g.SanitizeOutput("the key is sk-abcdefghijklmnopqrstuvwx"), "sk-abcdefghijklmnop")
	assert.Equal(t, "Watch episode 12.", g.SanitizeOutput("Watch episode 12."))
}

func TestPolicyValidator(t *testing.T) {
	v := NewPolicyValidator(5)
	assert.NoError(t, v.ValidateOutputSize("12345"))
	assert.Error(t, v.ValidateOutputSize("123456"))
}

func TestPackSnippetsRespectsBudget(t *testing.T) {
	a := NewContextAssembler(Budget{MaxContextTokens: 10, MaxSnippets: 2}, func(s string) int { return len(s) })

	packed := a.PackSnippets([]Snippet{
		{Text: "low", Score: 0.1},
		{Text: "toolongtext", Score: 0.9},
		{Text: "high", Score: 0.8},
		{Text: "mid", Score: 0.5},
	}, nil)

	require.Len(t, packed, 2)
	assert.Equal(t, "high", packed[0].Text)
	assert.Equal(t, "mid", packed[1].Text)

	assert.Empty(t, a.PackSnippets(nil, nil))
}

func TestHistoryMessages(t *testing.T) {
	msgs := HistoryMessages([]ports.Turn{
		{Input: "astro episodes?", Output: "Let's Learn Astro"},
		{Input: "who hosted?", Output: "Jason"},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "who hosted?", msgs[2].Content)
}
