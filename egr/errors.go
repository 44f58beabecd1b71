package egr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyInput is returned when a request carries no question text.
	ErrEmptyInput = errors.New("empty input")

	// ErrOutOfDomain marks a refused question. A refusal is a successful answer;
	// the sentinel only classifies it for logs and metrics.
	ErrOutOfDomain = errors.New("question is outside the corpus domain")
)

// GenerationError is returned when a language-model call fails or produces
// output that cannot be used.
type GenerationError struct {
	Stage string // rephrase, generate, evaluate, route, synthesize, embed
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError wraps err for the given pipeline stage.
func NewGenerationError(stage string, err error) *GenerationError {
	return &GenerationError{Stage: stage, Err: err}
}

// UnanswerableQueryError reports schema-grounded problems the repairer could
// not fix. The corpus cannot answer the question; the system is healthy.
type UnanswerableQueryError struct {
	Query  string
	Errors []string
}

func (e *UnanswerableQueryError) Error() string {
	return "question cannot be answered from the store: " + strings.Join(e.Errors, "; ")
}

// RetrievalExhaustedError is returned when the repair loop used every attempt
// without a successful execution.
type RetrievalExhaustedError struct {
	Attempts   int
	LastErrors []string
	Err        error // deadline or last execution error, may be nil
}

func (e *RetrievalExhaustedError) Error() string {
	msg := fmt.Sprintf("retrieval exhausted after %d attempts", e.Attempts)
	if len(e.LastErrors) > 0 {
		msg += ": " + strings.Join(e.LastErrors, "; ")
	}
	return msg
}

func (e *RetrievalExhaustedError) Unwrap() error { return e.Err }

// RetryAfter is the delay suggested to callers before retrying the request.
func (e *RetrievalExhaustedError) RetryAfter() time.Duration { return 2 * time.Second }

// StoreConnectivityError is returned when the typed or vector store cannot be
// reached. It is fatal for the current request.
type StoreConnectivityError struct {
	Store string // typed, vector, session
	Err   error
}

func (e *StoreConnectivityError) Error() string {
	return fmt.Sprintf("%s store unreachable: %v", e.Store, e.Err)
}

func (e *StoreConnectivityError) Unwrap() error { return e.Err }

// Code returns a stable machine-readable code for err, used in API responses
// and metric labels.
func Code(err error) string {
	var (
		genErr   *GenerationError
		unansErr *UnanswerableQueryError
		exhErr   *RetrievalExhaustedError
		connErr  *StoreConnectivityError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrOutOfDomain):
		return "out_of_domain"
	case errors.As(err, &unansErr):
		return "unanswerable"
	case errors.As(err, &exhErr):
		return "retrieval_exhausted"
	case errors.As(err, &connErr):
		return "store_unavailable"
	case errors.As(err, &genErr):
		return "generation_failed"
	default:
		return "internal"
	}
}
