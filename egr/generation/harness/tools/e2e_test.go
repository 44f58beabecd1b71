package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/chains"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

const e2eFixture = `{
  "episodes": [
    {
      "slug": "haunted-house-in-css",
      "url": "https://www.learnwithjason.dev/haunted-house-in-css",
      "title": "Haunted House in CSS, The",
      "date": "2022-10-27",
      "topics": [{"slug": "css", "name": "CSS"}],
      "people": [{"slug": "sam-rivera", "name": "Sam Rivera"}, {"slug": "jason-lengstorf", "name": "Jason Lengstorf", "role": "host"}],
      "chunks": [{"order": 0, "text": "We build a spooky house where friendly ghosts float between the windows.", "embedding": [0, 1, 0]}]
    },
    {
      "slug": "animating-svg-characters",
      "url": "https://www.learnwithjason.dev/animating-svg-characters",
      "title": "Animating SVG Characters",
      "date": "2023-03-14",
      "topics": [{"slug": "svg", "name": "SVG"}],
      "people": [{"slug": "sam-rivera", "name": "Sam Rivera"}, {"slug": "jason-lengstorf", "name": "Jason Lengstorf", "role": "host"}],
      "chunks": [{"order": 0, "text": "Sam shows how to rig SVG characters for animation.", "embedding": [1, 0, 0]}]
    }
  ]
}`

const followUp = "What other episodes did Sam Rivera make besides The Haunted House in CSS?"

// scriptedModel plays the language model for a two-turn conversation.
type scriptedModel struct {
	mu         sync.Mutex
	rephrasing []ports.PromptInput
}

func (m *scriptedModel) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	question := in.Messages[len(in.Messages)-1].Content
	switch in.Meta["stage"] {
	case "rephrase":
		m.rephrasing = append(m.rephrasing, in)
		return ports.Completion{Text: followUp}, nil
	case "route":
		return ports.Completion{ToolCalls: []ports.ToolCall{{
			ID:   "call_1",
			Name: SemanticRetrievalName,
			Args: mustJSON(map[string]string{"question": question}),
		}}}, nil
	case "synthesize":
		if strings.Contains(question, "other episodes") {
			return ports.Completion{Text: "Sam Rivera also made Animating SVG Characters (https://www.learnwithjason.dev/animating-svg-characters)."}, nil
		}
		return ports.Completion{Text: "Try The Haunted House in CSS (https://www.learnwithjason.dev/haunted-house-in-css), full of friendly ghosts."}, nil
	}
	return ports.Completion{}, nil
}

// topicEmbedder points follow-up questions about other episodes at the
// second episode and everything else at the first.
type topicEmbedder struct{}

func (topicEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "other episodes") {
			out[i] = []float64{1, 0, 0}
			continue
		}
		out[i] = []float64{0, 1, 0}
	}
	return out, nil
}

func (topicEmbedder) Dimension() int { return 3 }

func TestTwoTurnConversation(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, config.DatabaseConfig{
		URL:          "file:" + filepath.Join(t.TempDir(), "e2e.db"),
		MaxOpenConns: 4,
		AutoMigrate:  true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f, err := service.LoadFixture(strings.NewReader(e2eFixture))
	require.NoError(t, err)
	_, err = service.NewSeeder(conn, zerolog.Nop()).Seed(ctx, f)
	require.NoError(t, err)

	model := &scriptedModel{}
	metrics := service.NewMetricsCollector()
	semantic := chains.NewSemanticChain(topicEmbedder{}, service.NewChunkIndex(conn, 3, false, zerolog.Nop()), chains.SemanticOptions{TopK: 1}, metrics, zerolog.Nop())
	structured := chains.NewStructuredChain(
		service.NewSchemaDescriptorProvider(conn, time.Minute, zerolog.Nop()),
		service.NewTypedStore(conn, 20, zerolog.Nop()),
		chains.NewGenerator(model, nil, 10, 20, metrics, zerolog.Nop()),
		chains.NewEvaluator(model, service.NewTypedStore(conn, 20, zerolog.Nop()), 10, metrics, zerolog.Nop()),
		config.RetrievalConfig{MaxAttempts: 3, AttemptTimeout: 5 * time.Second, LoopTimeout: 15 * time.Second},
		metrics, zerolog.Nop(),
	)

	persona := config.PersonaConfig{Name: "Jason", Subject: "web development", Refusal: "I only answer questions about %s."}
	router := harness.NewRouter(model, []ports.Tool{NewStructuredRetrievalTool(structured), NewSemanticRetrievalTool(semantic)},
		persona, config.HarnessConfig{ToolTimeout: 5 * time.Second}, nil, metrics, zerolog.Nop())
	store := adapters.NewLibSQLConversationStore(conn, zerolog.Nop())
	orch := harness.NewOrchestrator(chains.NewRephraser(model, 6, metrics, zerolog.Nop()), router, store, nil, nil, metrics, 6, zerolog.Nop())

	// turn 1: semantic route, the answer names a cited episode
	first, err := orch.Answer(ctx, "s1", "Recommend something about ghosts")
	require.NoError(t, err)
	assert.Equal(t, egr.SourceSemantic, first.Turn.Source)
	assert.Equal(t, 1, first.Turn.Seq)
	assert.Equal(t, []string{"chunk:haunted-house-in-css--0", "episode:haunted-house-in-css"}, first.Turn.ContextIDs)
	assert.True(t, service.TitleMentioned(first.Message, "Haunted House in CSS, The"))
	assert.Empty(t, model.rephrasing, "first turn needs no rephrasing")

	// turn 2: "they" resolves to the guest of the episode from turn 1
	second, err := orch.Answer(ctx, "s1", "What else did they make?")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Turn.Seq)
	assert.Equal(t, followUp, second.Turn.RephrasedQuestion)
	assert.Contains(t, second.Turn.RephrasedQuestion, "Sam Rivera")
	assert.NotContains(t, strings.Fields(strings.ToLower(second.Turn.RephrasedQuestion)), "they")
	assert.Equal(t, []string{"chunk:animating-svg-characters--0", "episode:animating-svg-characters"}, second.Turn.ContextIDs)
	assert.True(t, service.TitleMentioned(second.Message, "Animating SVG Characters"))

	require.Len(t, model.rephrasing, 1)
	history := model.rephrasing[0].Messages
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, "Recommend something about ghosts", history[0].Content)
	assert.Equal(t, first.Message, history[1].Content)
	assert.Contains(t, history[len(history)-1].Content, "What else did they make?")

	turns, err := store.LoadHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, first.Turn.ContextIDs, turns[0].ContextIDs)
	assert.Equal(t, "What else did they make?", turns[1].Input)

	summary := metrics.GetSummary()
	assert.Equal(t, int64(2), summary.Routes[SemanticRetrievalName])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
