package harnessports

import "context"

// Cache memoizes deterministic work such as question embeddings.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// RateLimiter bounds how many answers run against the language model. The
// returned release must be called once the caller is done.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Tracer records spans around pipeline stages and point events inside them.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
