package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// Rephraser turns a follow-up message into a standalone question.
type Rephraser interface {
	Rephrase(ctx context.Context, raw string, history []ports.Turn) (string, error)
}

// QuestionRouter answers a standalone question.
type QuestionRouter interface {
	Route(ctx context.Context, question string) (*RouteResult, error)
}

// Answer is the outcome of one chat message.
type Answer struct {
	Message string
	Turn    ports.Turn
	Result  *RouteResult
}

// Orchestrator runs the per-message pipeline: load history, rephrase,
// route, persist.
type Orchestrator struct {
	rephraser     Rephraser
	router        QuestionRouter
	store         ports.ConversationStore
	limiter       ports.RateLimiter
	tracer        ports.Tracer
	metrics       *service.MetricsCollector
	historyWindow int
	logger        zerolog.Logger
}

// NewOrchestrator wires the pipeline. limiter and tracer may be nil.
func NewOrchestrator(
	rephraser Rephraser,
	router QuestionRouter,
	store ports.ConversationStore,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	metrics *service.MetricsCollector,
	historyWindow int,
	logger zerolog.Logger,
) *Orchestrator {
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	return &Orchestrator{
		rephraser:     rephraser,
		router:        router,
		store:         store,
		limiter:       limiter,
		tracer:        tracer,
		metrics:       metrics,
		historyWindow: historyWindow,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Answer handles one user message in sessionID and persists the turn.
// Nothing is persisted when any stage fails.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, message string) (ans *Answer, err error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, egr.ErrEmptyInput
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", egr.ErrEmptyInput)
	}

	release, err := o.limiter.Acquire(ctx, "answer")
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "answer", map[string]any{"session_id": sessionID})
	defer func() { finish(err) }()

	history, err := o.store.LoadHistory(ctx, sessionID, o.historyWindow)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &egr.StoreConnectivityError{Store: "session", Err: err}
	}

	question, err := o.rephraser.Rephrase(ctx, message, history)
	if err != nil {
		return nil, err
	}
	o.tracer.Event(ctx, "rephrased", map[string]any{"question": question, "history": len(history)})

	result, err := o.router.Route(ctx, question)
	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Str("code", egr.Code(err)).Msg("routing failed")
		return nil, err
	}

	if ratio, ok := service.GroundingRatio(result.Answer, result.Titles); ok {
		o.metrics.RecordGrounding(ratio)
	}

	turn, err := o.store.AppendTurn(ctx, sessionID, ports.Turn{
		Input:             message,
		RephrasedQuestion: question,
		Output:            result.Answer,
		Source:            result.Source,
		ContextIDs:        result.CitedIDs,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &egr.StoreConnectivityError{Store: "session", Err: err}
	}

	o.logger.Info().
		Str("session_id", sessionID).
		Int("seq", turn.Seq).
		Str("source", turn.Source).
		Int("cited", len(turn.ContextIDs)).
		Msg("turn answered")

	return &Answer{Message: result.Answer, Turn: turn, Result: result}, nil
}

// History returns up to limit turns of sessionID, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) ([]ports.Turn, error) {
	turns, err := o.store.LoadHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, &egr.StoreConnectivityError{Store: "session", Err: err}
	}
	return turns, nil
}
