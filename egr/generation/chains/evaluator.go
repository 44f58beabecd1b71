package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

type evaluation struct {
	Query  string   `json:"query"`
	Errors []string `json:"errors"`
}

// Evaluator checks a generated statement and asks the model to repair it.
type Evaluator struct {
	provider  ports.Provider
	store     service.TypedStore
	builder   *harness.PromptBuilder
	parser    *harness.OutputParser
	validator *harness.JSONValidator
	metrics   *service.MetricsCollector
	limit     int
	logger    zerolog.Logger
}

// NewEvaluator creates an evaluator that compiles statements against store.
func NewEvaluator(provider ports.Provider, store service.TypedStore, limit int, metrics *service.MetricsCollector, logger zerolog.Logger) *Evaluator {
	if limit <= 0 {
		limit = 10
	}
	return &Evaluator{
		provider:  provider,
		store:     store,
		builder:   harness.NewPromptBuilder(),
		parser:    harness.NewOutputParser(),
		validator: harness.NewJSONValidator(),
		metrics:   metrics,
		limit:     limit,
		logger:    logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate returns a revised query and the errors the model could not
// correct. A query with no static problems and no prior errors is returned
// unchanged without a model call.
func (e *Evaluator) Evaluate(ctx context.Context, question, query, schema string, priorErrors []string) (string, []string, error) {
	static, err := e.StaticCheck(ctx, query)
	if err != nil {
		return "", nil, err
	}
	problems := dedupeStrings(append(append([]string{}, priorErrors...), static...))
	if len(problems) == 0 {
		return query, nil, nil
	}

	system, err := e.builder.Render(evaluatePrompt, map[string]any{"Schema": schema, "Limit": e.limit})
	if err != nil {
		return "", nil, egr.NewGenerationError("evaluate", err)
	}
	user := fmt.Sprintf("Question:\n%s\n\nSQL Statement:\n%s\n\n%s", question, query, FormatErrors(problems))
	in := e.builder.Build(system, []ports.PromptMessage{{Role: "user", Content: user}}, nil, nil, map[string]string{"stage": "evaluate"})

	out, err := harness.Complete(ctx, e.provider, e.metrics, "evaluate", in, ports.Options{Temperature: 0, ResponseFormat: "json_object"})
	if err != nil {
		return "", nil, err
	}

	raw, err := e.parser.ParseJSONOutput(out.Text)
	if err != nil {
		return "", nil, egr.NewGenerationError("evaluate", err)
	}
	if err := e.validator.Validate(raw, evaluationSchema); err != nil {
		return "", nil, egr.NewGenerationError("evaluate", err)
	}
	var ev evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", nil, egr.NewGenerationError("evaluate", err)
	}

	revised := service.NormalizeQuery(harness.StripCodeFences(ev.Query))
	remaining := dedupeStrings(ev.Errors)
	if revised == "" && len(remaining) == 0 {
		return "", nil, egr.NewGenerationError("evaluate", fmt.Errorf("model returned neither a query nor errors"))
	}
	if revised == "" {
		revised = query
	}

	e.logger.Debug().
		Strs("problems", problems).
		Strs("remaining", remaining).
		Bool("changed", revised != query).
		Msg("query evaluated")
	return revised, remaining, nil
}

// StaticCheck returns the deterministic problems of query: read-only
// violations, or the engine's compile error. A compile failure on a store
// that no longer answers a ping is a StoreConnectivityError.
func (e *Evaluator) StaticCheck(ctx context.Context, query string) ([]string, error) {
	if problems := service.CheckReadOnly(query); len(problems) > 0 {
		return problems, nil
	}
	err := e.store.Explain(ctx, query)
	if err == nil {
		return nil, nil
	}
	if pingErr := e.store.Ping(ctx); pingErr != nil {
		return nil, &egr.StoreConnectivityError{Store: "typed", Err: pingErr}
	}
	return []string{err.Error()}, nil
}

// FormatErrors renders errors as a bullet list for prompts.
func FormatErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return "Errors:\n* " + strings.Join(errs, "\n* ")
}
