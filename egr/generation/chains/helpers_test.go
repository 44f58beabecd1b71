package chains

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

const testFixture = `{
  "episodes": [
    {
      "slug": "lets-learn-astro",
      "number": 301,
      "url": "https://www.learnwithjason.dev/lets-learn-astro",
      "title": "Let's Learn Astro",
      "date": "2023-05-01",
      "topics": [{"slug": "astro", "name": "Astro"}, {"slug": "javascript", "name": "JavaScript"}],
      "people": [{"slug": "ben-holmes", "name": "Ben Holmes"}],
      "chunks": [
        {"order": 0, "text": "Astro ships zero JavaScript by default.", "embedding": [1, 0, 0]},
        {"order": 1, "text": "Islands let you hydrate only what needs it.", "embedding": [0.9, 0.1, 0]}
      ]
    },
    {
      "slug": "magic-of-css",
      "url": "https://www.learnwithjason.dev/magic-of-css",
      "title": "Magic of CSS, The",
      "date": "2022-01-10",
      "topics": [{"slug": "css", "name": "CSS"}],
      "chunks": [
        {"order": 0, "text": "Container queries change responsive design.", "embedding": [0, 1, 0]}
      ]
    }
  ]
}`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), config.DatabaseConfig{
		URL:          "file:" + filepath.Join(t.TempDir(), "corpus.db"),
		MaxOpenConns: 4,
		AutoMigrate:  true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	conn := openTestDB(t)
	f, err := service.LoadFixture(strings.NewReader(testFixture))
	require.NoError(t, err)
	_, err = service.NewSeeder(conn, zerolog.Nop()).Seed(context.Background(), f)
	require.NoError(t, err)
	return conn
}

// stubProvider answers each stage from a queue of replies; the last reply
// repeats.
type stubProvider struct {
	mu      sync.Mutex
	replies map[string][]ports.Completion
	errs    map[string]error
	calls   []ports.PromptInput
}

func newStubProvider() *stubProvider {
	return &stubProvider{replies: map[string][]ports.Completion{}, errs: map[string]error{}}
}

func (p *stubProvider) reply(stage string, texts ...string) *stubProvider {
	for _, text := range texts {
		p.replies[stage] = append(p.replies[stage], ports.Completion{Text: text})
	}
	return p
}

func (p *stubProvider) fail(stage string, err error) *stubProvider {
	p.errs[stage] = err
	return p
}

func (p *stubProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stage := in.Meta["stage"]
	p.calls = append(p.calls, in)
	if err := p.errs[stage]; err != nil {
		return ports.Completion{}, err
	}
	queue := p.replies[stage]
	if len(queue) == 0 {
		return ports.Completion{}, errors.New("no reply scripted for " + stage)
	}
	out := queue[0]
	if len(queue) > 1 {
		p.replies[stage] = queue[1:]
	}
	return out, nil
}

func (p *stubProvider) count(stage string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, in := range p.calls {
		if in.Meta["stage"] == stage {
			n++
		}
	}
	return n
}

func (p *stubProvider) last(stage string) ports.PromptInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].Meta["stage"] == stage {
			return p.calls[i]
		}
	}
	return ports.PromptInput{}
}

type stubEmbedder struct {
	vec   []float64
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return len(e.vec) }
