package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// SessionHeader carries the session id for POST /v1/chat when the body omits it.
const SessionHeader = "X-Session-ID"

const defaultHistoryLimit = 50

type messageRequest struct {
	Message string `json:"message" validate:"required"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" validate:"required"`
}

type messageResponse struct {
	Message    string   `json:"message"`
	SessionID  string   `json:"session_id"`
	Seq        int      `json:"seq"`
	Source     string   `json:"source"`
	ContextIDs []string `json:"context_ids"`
}

type turnView struct {
	ID                string    `json:"id"`
	Seq               int       `json:"seq"`
	Input             string    `json:"input"`
	RephrasedQuestion string    `json:"rephrased_question"`
	Output            string    `json:"output"`
	Source            string    `json:"source"`
	ContextIDs        []string  `json:"context_ids"`
	CreatedAt         time.Time `json:"created_at"`
}

// PostMessage answers one message in the session named by the path.
// POST /v1/sessions/:session_id/messages
func (s *Server) PostMessage(c echo.Context) error {
	var req messageRequest
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	return s.answer(c, c.Param("session_id"), req.Message)
}

// Chat answers one message; the session id comes from the body or the
// X-Session-ID header.
// POST /v1/chat
func (s *Server) Chat(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return s.writeError(c, err)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.Request().Header.Get(SessionHeader)
	}
	return s.answer(c, sessionID, req.Message)
}

func (s *Server) answer(c echo.Context, sessionID, message string) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ans, err := s.answerer.Answer(ctx, sessionID, message)
	if err != nil {
		return s.writeError(c, err)
	}

	ids := ans.Turn.ContextIDs
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, messageResponse{
		Message:    ans.Message,
		SessionID:  sessionID,
		Seq:        ans.Turn.Seq,
		Source:     ans.Turn.Source,
		ContextIDs: ids,
	})
}

// GetTurns returns the session history with provenance, oldest first.
// GET /v1/sessions/:session_id/turns
func (s *Server) GetTurns(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	turns, err := s.answerer.History(ctx, sessionID, limit)
	if err != nil {
		return s.writeError(c, err)
	}

	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, toView(t))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      views,
	})
}

// Health returns health status with a metrics snapshot.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": egr.Version,
		"uptime":  time.Since(started).Round(time.Second).String(),
		"metrics": s.metrics.GetSummary(),
	})
}

// bind decodes and validates the request body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body must be a JSON object", Err: err}
	}
	if err := c.Validate(req); err != nil {
		return &apiError{Status: http.StatusBadRequest, Code: "empty_input", Message: "message is required", Err: err}
	}
	return nil
}

func toView(t ports.Turn) turnView {
	ids := t.ContextIDs
	if ids == nil {
		ids = []string{}
	}
	return turnView{
		ID:                t.ID,
		Seq:               t.Seq,
		Input:             t.Input,
		RephrasedQuestion: t.RephrasedQuestion,
		Output:            t.Output,
		Source:            t.Source,
		ContextIDs:        ids,
		CreatedAt:         t.CreatedAt,
	}
}
