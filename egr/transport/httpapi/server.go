// Package httpapi exposes the chat orchestrator over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egr",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "egr",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"method", "route"})
)

// Answerer is the chat pipeline served by the API.
type Answerer interface {
	Answer(ctx context.Context, sessionID, message string) (*harness.Answer, error)
	History(ctx context.Context, sessionID string, limit int) ([]ports.Turn, error)
}

// Server wires the echo router, middleware and handlers.
type Server struct {
	echo     *echo.Echo
	answerer Answerer
	metrics  *service.MetricsCollector
	cfg      config.ServerConfig
	logger   zerolog.Logger
}

// NewServer creates the HTTP server. Routes are registered immediately so
// Handler can be used in tests without starting a listener.
func NewServer(answerer Answerer, metrics *service.MetricsCollector, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		echo:     echo.New(),
		answerer: answerer,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With().Str("component", "httpapi").Logger(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
	e.HTTPErrorHandler = s.handleEchoError
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.requestLogger())
	if cfg.EnableCORS {
		e.Use(middleware.CORS())
	}

	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers the API routes with e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions/:session_id/messages", s.PostMessage)
	e.POST("/v1/chat", s.Chat)
	e.GET("/v1/sessions/:session_id/turns", s.GetTurns)

	e.GET("/health", s.Health)
	if s.cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger logs every request through zerolog and feeds the HTTP
// collectors.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			httpRequestsTotal.WithLabelValues(v.Method, route, strconv.Itoa(v.Status)).Inc()
			httpRequestDuration.WithLabelValues(v.Method, route).Observe(v.Latency.Seconds())

			ev := s.logger.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = s.logger.Error()
			}
			if v.Error != nil {
				ev = ev.Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

// requestContext bounds a request by the configured timeout.
func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := c.Request().Context()
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// started is the process start time reported on /health.
var started = time.Now()
