package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

// Complete calls provider for one pipeline stage, records the call and
// converts failures into *egr.GenerationError. Cancellation of ctx is
// returned as-is so callers can tell a dropped client from a model failure.
func Complete(ctx context.Context, provider ports.Provider, metrics *service.MetricsCollector, stage string, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if provider == nil {
		return ports.Completion{}, egr.NewGenerationError(stage, errors.New("no language model configured"))
	}

	start := time.Now()
	out, err := provider.Complete(ctx, in, opts)
	metrics.RecordLLMCall(stage, time.Since(start), err)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ports.Completion{}, ctx.Err()
		}
		return ports.Completion{}, egr.NewGenerationError(stage, err)
	}
	return out, nil
}

// CompleteText is Complete for stages that need non-empty text.
func CompleteText(ctx context.Context, provider ports.Provider, metrics *service.MetricsCollector, stage string, in ports.PromptInput, opts ports.Options) (string, error) {
	out, err := Complete(ctx, provider, metrics, stage, in, opts)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", egr.NewGenerationError(stage, fmt.Errorf("model returned empty output"))
	}
	return text, nil
}
