package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// State is a step of the routing state machine.
type State string

const (
	StateRouting      State = "ROUTING"
	StateInvoking     State = "INVOKING"
	StateSynthesizing State = "SYNTHESIZING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// RouteResult is the outcome of answering one standalone question.
type RouteResult struct {
	Answer   string
	CitedIDs []string
	Titles   []string
	Tool     string // tool name, or egr.SourceRefusal
	Source   string // provenance tag persisted with the turn
	Trace    []State
}

// Sourced is implemented by tools that tag their answers with a source
// other than the tool name.
type Sourced interface {
	Source() string
}

var (
	routingPrompt = template.Must(template.New("routing").Parse(`
You are {{.Persona.Name}}, an assistant that answers questions about {{.Persona.Subject}}.
Answer every question by calling exactly one of these tools:
{{range .Tools}}- {{.Name}}: {{.Description}}
{{end}}
Pass the user's question unchanged as the "question" argument.
If the question is not about {{.Persona.Subject}}, do not call any tool; reply with one short sentence instead.`))

	synthesisPrompt = template.Must(template.New("synthesis").Parse(`
You are {{.Persona.Name}}, answering questions about {{.Persona.Subject}}.
Answer the question using only the context provided.
Mention episodes by their title and include their URL. Never invent episodes, people or links.
{{if .Empty}}No matching items were found for this question. Say so briefly and suggest rephrasing it.{{end}}`))
)

// Router picks one retrieval tool per question, invokes it and synthesizes
// the answer from its context.
type Router struct {
	provider   ports.Provider
	tools      map[string]ports.Tool
	specs      []ports.ToolSpec
	builder    *PromptBuilder
	parser     *OutputParser
	guardrails *Guardrails
	policy     *PolicyValidator
	tracer     ports.Tracer
	metrics    *service.MetricsCollector
	persona    config.PersonaConfig
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewRouter creates a router over tools. Only these tools pass the allowlist.
func NewRouter(provider ports.Provider, tools []ports.Tool, persona config.PersonaConfig, harnessCfg config.HarnessConfig, tracer ports.Tracer, metrics *service.MetricsCollector, logger zerolog.Logger) *Router {
	r := &Router{
		provider:   provider,
		tools:      make(map[string]ports.Tool, len(tools)),
		builder:    NewPromptBuilder(),
		parser:     NewOutputParser(),
		guardrails: NewGuardrails(),
		policy:     NewPolicyValidator(harnessCfg.MaxOutputSize),
		tracer:     tracer,
		metrics:    metrics,
		persona:    persona,
		timeout:    harnessCfg.ToolTimeout,
		logger:     logger.With().Str("component", "router").Logger(),
	}
	if r.tracer == nil {
		r.tracer = &noOpTracer{}
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.specs = append(r.specs, ports.ToolSpec{Name: t.Name(), Description: t.Description(), JSONSchema: t.Schema()})
		r.guardrails.AddAllowedTool(t.Name())
	}
	return r
}

// Route answers a standalone question. A question outside the corpus domain
// yields the refusal answer without invoking any tool.
func (r *Router) Route(ctx context.Context, question string) (*RouteResult, error) {
	res := &RouteResult{}
	ctx, finish := r.tracer.StartSpan(ctx, "route", map[string]any{"question": question})

	err := r.run(ctx, question, res)
	if err != nil {
		r.transition(ctx, res, StateFailed)
	}
	finish(err)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (r *Router) run(ctx context.Context, question string, res *RouteResult) error {
	r.transition(ctx, res, StateRouting)

	call, tool, ok, err := r.selectTool(ctx, question)
	if err != nil {
		return err
	}
	if !ok {
		res.Answer = r.Refusal()
		res.Tool = egr.SourceRefusal
		res.Source = egr.SourceRefusal
		res.CitedIDs = []string{}
		r.metrics.RecordRoute(egr.SourceRefusal)
		r.tracer.Event(ctx, "out_of_domain", map[string]any{"reason": egr.ErrOutOfDomain.Error()})
		r.transition(ctx, res, StateDone)
		return nil
	}
	res.Tool = tool.Name()
	res.Source = tool.Name()
	if s, ok := tool.(Sourced); ok {
		res.Source = s.Source()
	}

	r.transition(ctx, res, StateInvoking)
	toolCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	result, err := tool.Invoke(toolCtx, call.Args)
	if err != nil {
		return err
	}
	res.CitedIDs = result.CitedIDs
	if res.CitedIDs == nil {
		res.CitedIDs = []string{}
	}
	res.Titles = result.Titles

	r.transition(ctx, res, StateSynthesizing)
	answer, err := r.synthesize(ctx, question, result)
	if err != nil {
		return err
	}
	res.Answer = answer
	r.metrics.RecordRoute(tool.Name())
	r.transition(ctx, res, StateDone)
	return nil
}

// selectTool asks the model which tool serves question. ok is false when the
// model declined to call a tool.
func (r *Router) selectTool(ctx context.Context, question string) (ports.ToolCall, ports.Tool, bool, error) {
	system, err := r.builder.Render(routingPrompt, map[string]any{"Persona": r.persona, "Tools": r.specs})
	if err != nil {
		return ports.ToolCall{}, nil, false, egr.NewGenerationError("route", err)
	}
	in := r.builder.Build(system, []ports.PromptMessage{{Role: "user", Content: question}}, nil, r.specs, map[string]string{"stage": "route"})

	out, err := Complete(ctx, r.provider, r.metrics, "route", in, ports.Options{ToolChoice: "auto", Temperature: 0})
	if err != nil {
		return ports.ToolCall{}, nil, false, err
	}

	calls := out.ToolCalls
	if len(calls) == 0 {
		calls = r.parser.ParseToolCalls(out.Text)
	}
	if len(calls) == 0 {
		return ports.ToolCall{}, nil, false, nil
	}
	if len(calls) > 1 {
		r.logger.Debug().Int("calls", len(calls)).Msg("model requested several tools, using the first")
	}

	call := calls[0]
	call.Args = withQuestion(call.Args, question)

	tool, known := r.tools[call.Name]
	var schema []byte
	if known {
		schema = tool.Schema()
	}
	if err := r.guardrails.ValidateToolCall(call, schema); err != nil {
		return ports.ToolCall{}, nil, false, egr.NewGenerationError("route", err)
	}

	r.tracer.Event(ctx, "tool_selected", map[string]any{"tool": call.Name})
	return call, tool, true, nil
}

func (r *Router) synthesize(ctx context.Context, question string, result ports.ToolResult) (string, error) {
	system, err := r.builder.Render(synthesisPrompt, map[string]any{"Persona": r.persona, "Empty": result.Empty()})
	if err != nil {
		return "", egr.NewGenerationError("synthesize", err)
	}
	in := r.builder.Build(system, []ports.PromptMessage{{Role: "user", Content: question}}, result.Context, nil, map[string]string{"stage": "synthesize"})

	answer, err := CompleteText(ctx, r.provider, r.metrics, "synthesize", in, ports.Options{Temperature: 0})
	if err != nil {
		return "", err
	}
	answer = r.guardrails.SanitizeOutput(answer)
	if err := r.policy.ValidateOutputSize(answer); err != nil {
		return "", egr.NewGenerationError("synthesize", err)
	}
	return answer, nil
}

// Refusal is the fixed answer for out-of-domain questions.
func (r *Router) Refusal() string {
	if strings.Contains(r.persona.Refusal, "%s") {
		return fmt.Sprintf(r.persona.Refusal, r.persona.Subject)
	}
	return r.persona.Refusal
}

func (r *Router) transition(ctx context.Context, res *RouteResult, s State) {
	res.Trace = append(res.Trace, s)
	r.logger.Debug().Str("state", string(s)).Str("tool", res.Tool).Msg("route transition")
}

// withQuestion makes sure args carries the question the router was given;
// models sometimes paraphrase or drop it.
func withQuestion(args json.RawMessage, question string) json.RawMessage {
	m := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &m); err != nil {
			return args
		}
	}
	if q, ok := m["question"].(string); !ok || strings.TrimSpace(q) == "" {
		m["question"] = question
	}
	out, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return out
}

// IsRouteFailure reports whether err came out of the routing stage itself.
func IsRouteFailure(err error) bool {
	var genErr *egr.GenerationError
	return errors.As(err, &genErr) && genErr.Stage == "route"
}
