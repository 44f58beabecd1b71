package chains

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// Result is the context a retrieval chain found for a question.
type Result struct {
	Context  []string
	CitedIDs []string
	Titles   []string // titles of cited episodes
	Query    string   // executed statement, structured retrieval only
	Attempts int
}

// QueryGenerator produces the first candidate statement.
type QueryGenerator interface {
	Generate(ctx context.Context, question, schema string) (string, error)
}

// QueryEvaluator checks and repairs a candidate statement.
type QueryEvaluator interface {
	Evaluate(ctx context.Context, question, query, schema string, priorErrors []string) (string, []string, error)
}

// StructuredChain answers relational questions: generate a statement, then
// evaluate and execute it, feeding execution errors back, for at most
// maxAttempts attempts.
type StructuredChain struct {
	schema    service.SchemaProvider
	store     service.TypedStore
	generator QueryGenerator
	evaluator QueryEvaluator
	cfg       config.RetrievalConfig
	metrics   *service.MetricsCollector
	logger    zerolog.Logger
}

// NewStructuredChain wires the structured retrieval chain.
func NewStructuredChain(schema service.SchemaProvider, store service.TypedStore, generator QueryGenerator, evaluator QueryEvaluator, cfg config.RetrievalConfig, metrics *service.MetricsCollector, logger zerolog.Logger) *StructuredChain {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &StructuredChain{
		schema:    schema,
		store:     store,
		generator: generator,
		evaluator: evaluator,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "structured_chain").Logger(),
	}
}

// Retrieve runs the repair loop for question. Zero rows is a valid, empty
// result.
func (c *StructuredChain) Retrieve(ctx context.Context, question string) (res *Result, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordRetrieval(egr.SourceStructured, time.Since(start), err) }()

	loopCtx := ctx
	if c.cfg.LoopTimeout > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, c.cfg.LoopTimeout)
		defer cancel()
	}

	schema, err := c.schema.Schema(loopCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &egr.StoreConnectivityError{Store: "typed", Err: err}
	}

	query, err := c.generator.Generate(loopCtx, question, schema)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if loopCtx.Err() != nil {
			return nil, &egr.RetrievalExhaustedError{Attempts: 0, Err: loopCtx.Err()}
		}
		return nil, err
	}

	var (
		prior   []string
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if loopCtx.Err() != nil {
			lastErr = loopCtx.Err()
			attempt--
			break
		}

		rows, revised, remaining, err := c.attempt(loopCtx, question, query, schema, prior)
		if revised != "" {
			query = revised
		}

		switch {
		case err == nil && len(remaining) > 0:
			c.metrics.RecordAttempt("unanswerable")
			c.logger.Info().Strs("errors", remaining).Str("query", query).Msg("question cannot be answered from the schema")
			return nil, &egr.UnanswerableQueryError{Query: query, Errors: remaining}

		case err == nil:
			c.metrics.RecordAttempt("success")
			return c.shape(query, rows, attempt)

		case ctx.Err() != nil:
			return nil, ctx.Err()

		case loopCtx.Err() != nil:
			c.metrics.RecordAttempt("timeout")
			lastErr = loopCtx.Err()
			prior = []string{"retrieval deadline exceeded"}
			// the attempt in flight counts
			return nil, c.exhausted(attempt, prior, lastErr)
		}

		var execErr *executionError
		var timeoutErr *attemptTimeoutError
		var connErr *egr.StoreConnectivityError
		switch {
		case errors.As(err, &connErr):
			c.metrics.RecordAttempt("unreachable")
			return nil, err
		case errors.As(err, &timeoutErr):
			c.metrics.RecordAttempt("timeout")
		case errors.As(err, &execErr):
			if pingErr := c.store.Ping(loopCtx); pingErr != nil {
				c.metrics.RecordAttempt("unreachable")
				return nil, &egr.StoreConnectivityError{Store: "typed", Err: pingErr}
			}
			c.metrics.RecordAttempt("failed")
		default:
			// model failures end the loop
			return nil, err
		}

		c.logger.Debug().Int("attempt", attempt).Err(err).Str("query", query).Msg("attempt failed")
		lastErr = err
		prior = []string{errorMessage(err)}
	}

	return nil, c.exhausted(min(attempt, c.cfg.MaxAttempts), prior, lastErr)
}

func (c *StructuredChain) exhausted(attempts int, lastErrors []string, err error) error {
	c.logger.Warn().Int("attempts", attempts).Strs("last_errors", lastErrors).Msg("retrieval exhausted")
	return &egr.RetrievalExhaustedError{Attempts: attempts, LastErrors: lastErrors, Err: err}
}

// attempt evaluates query and, if the evaluator left no uncorrectable
// errors, executes the revised statement. Both steps share one deadline.
func (c *StructuredChain) attempt(ctx context.Context, question, query, schema string, prior []string) ([]service.Row, string, []string, error) {
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	revised, remaining, err := c.evaluator.Evaluate(attemptCtx, question, query, schema, prior)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, "", nil, &attemptTimeoutError{timeout: c.cfg.AttemptTimeout}
		}
		return nil, "", nil, err
	}
	if len(remaining) > 0 {
		return nil, revised, remaining, nil
	}

	rows, err := c.store.Query(attemptCtx, revised)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, revised, nil, &attemptTimeoutError{timeout: c.cfg.AttemptTimeout}
		}
		return nil, revised, nil, &executionError{err: err}
	}
	return rows, revised, nil, nil
}

// shape renders one JSON line per row and collects the cited ids.
func (c *StructuredChain) shape(query string, rows []service.Row, attempts int) (*Result, error) {
	res := &Result{
		Context:  make([]string, 0, len(rows)),
		CitedIDs: ExtractIDs(rows),
		Titles:   ExtractEpisodeTitles(rows),
		Query:    query,
		Attempts: attempts,
	}
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
		res.Context = append(res.Context, string(b))
	}
	if res.CitedIDs == nil {
		res.CitedIDs = []string{}
	}

	c.logger.Debug().Int("rows", len(rows)).Int("cited", len(res.CitedIDs)).Int("attempts", attempts).Msg("structured retrieval complete")
	return res, nil
}

type executionError struct{ err error }

func (e *executionError) Error() string { return e.err.Error() }
func (e *executionError) Unwrap() error { return e.err }

type attemptTimeoutError struct{ timeout time.Duration }

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("query did not finish within %s", e.timeout)
}

func errorMessage(err error) string {
	var execErr *executionError
	if errors.As(err, &execErr) {
		return execErr.err.Error()
	}
	return err.Error()
}
