package chains

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// Rephraser rewrites a follow-up message into a standalone question using
// the session history.
type Rephraser struct {
	provider ports.Provider
	builder  *harness.PromptBuilder
	metrics  *service.MetricsCollector
	window   int
	logger   zerolog.Logger
}

// NewRephraser creates a rephraser that looks at the last window turns.
func NewRephraser(provider ports.Provider, window int, metrics *service.MetricsCollector, logger zerolog.Logger) *Rephraser {
	return &Rephraser{
		provider: provider,
		builder:  harness.NewPromptBuilder(),
		metrics:  metrics,
		window:   window,
		logger:   logger.With().Str("component", "rephraser").Logger(),
	}
}

// Rephrase returns a standalone question for raw. Without history the
// trimmed input is returned as is.
func (r *Rephraser) Rephrase(ctx context.Context, raw string, history []ports.Turn) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", egr.ErrEmptyInput
	}
	if len(history) == 0 {
		return raw, nil
	}
	if r.window > 0 && len(history) > r.window {
		history = history[len(history)-r.window:]
	}

	system, err := r.builder.Render(rephrasePrompt, nil)
	if err != nil {
		return "", egr.NewGenerationError("rephrase", err)
	}
	msgs := harness.HistoryMessages(history)
	msgs = append(msgs, ports.PromptMessage{Role: "user", Content: "Follow-up input: " + raw})
	in := r.builder.Build(system, msgs, nil, nil, map[string]string{"stage": "rephrase"})

	question, err := harness.CompleteText(ctx, r.provider, r.metrics, "rephrase", in, ports.Options{Temperature: 0})
	if err != nil {
		return "", err
	}
	question = cleanQuestion(question)
	if question == "" {
		return "", egr.NewGenerationError("rephrase", errEmptyQuestion)
	}

	r.logger.Debug().Str("input", raw).Str("question", question).Int("history", len(history)).Msg("question rephrased")
	return question, nil
}

// cleanQuestion drops labels and quotes models like to wrap answers in.
func cleanQuestion(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Standalone question:", "Question:"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	return strings.TrimSpace(strings.Trim(s, "\"'`"))
}
