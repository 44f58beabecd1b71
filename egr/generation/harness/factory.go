package harness

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	db            *sql.DB // optional, for the conversation store
	metrics       *service.MetricsCollector
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(harnessConfig *config.HarnessConfig, db *sql.DB, metrics *service.MetricsCollector, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: harnessConfig,
		db:            db,
		metrics:       metrics,
		logger:        logger,
	}
}

// CreateRouter builds a router over tools with the configured tracer.
func (f *Factory) CreateRouter(provider ports.Provider, tools []ports.Tool, persona config.PersonaConfig) *Router {
	return NewRouter(provider, tools, persona, *f.harnessConfig, f.CreateTracer(), f.metrics, f.logger)
}

// CreateOrchestrator builds the per-message pipeline around router.
func (f *Factory) CreateOrchestrator(rephraser Rephraser, router QuestionRouter, historyWindow int) *Orchestrator {
	return NewOrchestrator(
		rephraser,
		router,
		f.CreateStore(),
		f.CreateRateLimiter(),
		f.CreateTracer(),
		f.metrics,
		historyWindow,
		f.logger,
	)
}

// CreateCache creates a cache adapter from config. Cache traffic is
// reported to the metrics collector.
func (f *Factory) CreateCache() ports.Cache {
	if !f.harnessConfig.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.harnessConfig.CacheCapacity, f.metrics.RecordCache)
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.harnessConfig.RateLimitCapacity, f.harnessConfig.RateLimitRefillRate)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreateStore creates the conversation store. Without a database every
// session starts empty and appends fail.
func (f *Factory) CreateStore() ports.ConversationStore {
	if f.db == nil {
		return &noOpStore{}
	}
	return adapters.NewLibSQLConversationStore(f.db, f.logger)
}

// IsRateLimited reports whether err came from the rate limiter.
func IsRateLimited(err error) bool {
	var rl *adapters.RateLimitError
	return errors.As(err, &rl)
}

// noOpCache implements Cache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

type noOpStore struct{}

var errNoStore = errors.New("no conversation store configured")

func (s *noOpStore) LoadHistory(ctx context.Context, sessionID string, k int) ([]ports.Turn, error) {
	return []ports.Turn{}, nil
}

func (s *noOpStore) AppendTurn(ctx context.Context, sessionID string, turn ports.Turn) (ports.Turn, error) {
	return ports.Turn{}, errNoStore
}

var (
	_ ports.Cache             = (*noOpCache)(nil)
	_ ports.RateLimiter       = (*noOpRateLimiter)(nil)
	_ ports.Tracer            = (*noOpTracer)(nil)
	_ ports.ConversationStore = (*noOpStore)(nil)
)
