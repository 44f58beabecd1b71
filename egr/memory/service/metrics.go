package service

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus collectors, registered on the default registry and
// served on /metrics.
var (
	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egr",
		Name:      "llm_calls_total",
		Help:      "Language model calls by pipeline stage and status.",
	}, []string{"stage", "status"})

	llmCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "egr",
		Name:      "llm_call_duration_seconds",
		Help:      "Duration of language model calls in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	retrievalAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egr",
		Name:      "retrieval_attempts_total",
		Help:      "Structured retrieval attempts by outcome.",
	}, []string{"outcome"})

	retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "egr",
		Name:      "retrieval_duration_seconds",
		Help:      "Duration of retrieval chain runs in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source", "status"})

	routeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egr",
		Name:      "route_total",
		Help:      "Answered questions by the tool that served them.",
	}, []string{"tool"})

	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egr",
		Name:      "embedding_cache_events_total",
		Help:      "Question embedding cache hits, misses and evictions.",
	}, []string{"event"})

	groundingRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "egr",
		Name:      "grounding_ratio",
		Help:      "Share of cited episodes whose title appears in the answer.",
		Buckets:   []float64{0, 0.25, 0.5, 0.75, 1},
	})
)

// maxLatencySamples bounds the in-process latency window.
const maxLatencySamples = 1000

// MetricsCollector collects performance metrics for retrieval and generation.
// A nil collector is valid and records nothing.
type MetricsCollector struct {
	mu sync.RWMutex

	retrievalCount  int64
	retrievalErrors int64
	llmCalls        int64
	llmErrors       int64

	retrievalLatency []time.Duration
	llmLatency       []time.Duration

	sourceStats map[string]SourceStats
	attempts    map[string]int64
	routes      map[string]int64
	cache       map[string]int64
}

// SourceStats tracks metrics for an individual retrieval source.
type SourceStats struct {
	QueryCount   int64         `json:"query_count"`
	TotalLatency time.Duration `json:"total_latency"`
	ErrorCount   int64         `json:"error_count"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		retrievalLatency: make([]time.Duration, 0, 64),
		llmLatency:       make([]time.Duration, 0, 64),
		sourceStats:      make(map[string]SourceStats),
		attempts:         make(map[string]int64),
		routes:           make(map[string]int64),
		cache:            make(map[string]int64),
	}
}

// RecordRetrieval records one retrieval chain run for source.
func (mc *MetricsCollector) RecordRetrieval(source string, duration time.Duration, err error) {
	retrievalDuration.WithLabelValues(source, status(err)).Observe(duration.Seconds())
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.retrievalCount++
	mc.retrievalLatency = appendSample(mc.retrievalLatency, duration)

	stats := mc.sourceStats[source]
	stats.QueryCount++
	stats.TotalLatency += duration
	if err != nil {
		stats.ErrorCount++
		mc.retrievalErrors++
	}
	mc.sourceStats[source] = stats
}

// RecordAttempt records the outcome of one structured repair-loop attempt:
// success, failed, timeout, unanswerable or unreachable.
func (mc *MetricsCollector) RecordAttempt(outcome string) {
	retrievalAttemptsTotal.WithLabelValues(outcome).Inc()
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.attempts[outcome]++
}

// RecordLLMCall records a language model call made by stage.
func (mc *MetricsCollector) RecordLLMCall(stage string, duration time.Duration, err error) {
	llmCallsTotal.WithLabelValues(stage, status(err)).Inc()
	llmCallDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.llmCalls++
	mc.llmLatency = appendSample(mc.llmLatency, duration)
	if err != nil {
		mc.llmErrors++
	}
}

// RecordRoute records which tool answered a question.
func (mc *MetricsCollector) RecordRoute(tool string) {
	routeTotal.WithLabelValues(tool).Inc()
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.routes[tool]++
}

// RecordCache counts one embedding cache event (hit, miss or eviction).
func (mc *MetricsCollector) RecordCache(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cache[event]++
}

// RecordGrounding observes the share of cited episodes mentioned in an answer.
func (mc *MetricsCollector) RecordGrounding(ratio float64) {
	groundingRatio.Observe(ratio)
}

// GetSummary returns a summary of collected metrics
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	if mc == nil {
		return MetricsSummary{}
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsSummary{
		RetrievalCount:   mc.retrievalCount,
		RetrievalErrors:  mc.retrievalErrors,
		LLMCalls:         mc.llmCalls,
		LLMErrors:        mc.llmErrors,
		SourceStats:      cloneMap(mc.sourceStats),
		Attempts:         cloneMap(mc.attempts),
		Routes:           cloneMap(mc.routes),
		Cache:            cloneMap(mc.cache),
		RetrievalLatency: calculatePercentiles(mc.retrievalLatency),
		LLMLatency:       calculatePercentiles(mc.llmLatency),
	}
}

// Reset clears all collected metrics
func (mc *MetricsCollector) Reset() {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.retrievalCount = 0
	mc.retrievalErrors = 0
	mc.llmCalls = 0
	mc.llmErrors = 0
	mc.retrievalLatency = mc.retrievalLatency[:0]
	mc.llmLatency = mc.llmLatency[:0]
	mc.sourceStats = make(map[string]SourceStats)
	mc.attempts = make(map[string]int64)
	mc.routes = make(map[string]int64)
	mc.cache = make(map[string]int64)
}

// MetricsSummary represents a summary of collected metrics
type MetricsSummary struct {
	RetrievalCount   int64                  `json:"retrieval_count"`
	RetrievalErrors  int64                  `json:"retrieval_errors"`
	LLMCalls         int64                  `json:"llm_calls"`
	LLMErrors        int64                  `json:"llm_errors"`
	SourceStats      map[string]SourceStats `json:"source_stats"`
	Attempts         map[string]int64       `json:"attempts"`
	Routes           map[string]int64       `json:"routes"`
	Cache            map[string]int64       `json:"cache"`
	RetrievalLatency LatencyPercentiles     `json:"retrieval_latency"`
	LLMLatency       LatencyPercentiles     `json:"llm_latency"`
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// calculatePercentiles calculates p50, p95, p99 latencies
func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	if len(samples) >= maxLatencySamples {
		samples = append(samples[:0], samples[1:]...)
	}
	return append(samples, d)
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
