package chains

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

var errEmptyQuestion = errors.New("model returned an empty question")

// TopicLister lists the topic slugs the generator may filter on.
type TopicLister interface {
	TopicSlugs(ctx context.Context) ([]string, error)
}

// Generator translates a question into a read-only SQL statement.
type Generator struct {
	provider         ports.Provider
	topics           TopicLister
	builder          *harness.PromptBuilder
	parser           *harness.OutputParser
	metrics          *service.MetricsCollector
	lookupLimit      int
	exploratoryLimit int
	logger           zerolog.Logger
}

// NewGenerator creates a query generator. topics may be nil.
func NewGenerator(provider ports.Provider, topics TopicLister, lookupLimit, exploratoryLimit int, metrics *service.MetricsCollector, logger zerolog.Logger) *Generator {
	if lookupLimit <= 0 {
		lookupLimit = 10
	}
	if exploratoryLimit <= 0 {
		exploratoryLimit = 20
	}
	return &Generator{
		provider:         provider,
		topics:           topics,
		builder:          harness.NewPromptBuilder(),
		parser:           harness.NewOutputParser(),
		metrics:          metrics,
		lookupLimit:      lookupLimit,
		exploratoryLimit: exploratoryLimit,
		logger:           logger.With().Str("component", "generator").Logger(),
	}
}

// Generate returns a single SELECT statement for question.
func (g *Generator) Generate(ctx context.Context, question, schema string) (string, error) {
	system, err := g.builder.Render(generatePrompt, map[string]any{
		"Topics":           strings.Join(g.topicSlugs(ctx), ", "),
		"Schema":           schema,
		"LookupLimit":      g.lookupLimit,
		"ExploratoryLimit": g.exploratoryLimit,
	})
	if err != nil {
		return "", egr.NewGenerationError("generate", err)
	}
	in := g.builder.Build(system, []ports.PromptMessage{{Role: "user", Content: "Question:\n" + question}}, nil, nil, map[string]string{"stage": "generate"})

	text, err := harness.CompleteText(ctx, g.provider, g.metrics, "generate", in, ports.Options{Temperature: 0})
	if err != nil {
		return "", err
	}

	query, err := g.parser.ParseSQL(text)
	if err != nil {
		return "", egr.NewGenerationError("generate", err)
	}
	g.logger.Debug().Str("question", question).Str("query", query).Msg("query generated")
	return query, nil
}

// topicSlugs is best effort: a failing lookup leaves the prompt without topics.
func (g *Generator) topicSlugs(ctx context.Context) []string {
	if g.topics == nil {
		return nil
	}
	slugs, err := g.topics.TopicSlugs(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to list topics")
		return nil
	}
	return slugs
}
