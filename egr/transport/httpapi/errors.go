package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness"
)

// StatusClientClosedRequest is used for requests the client abandoned.
const StatusClientClosedRequest = 499

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// apiError is a request problem detected by the HTTP layer itself.
type apiError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *apiError) Unwrap() error { return e.Err }

// StatusFor maps a pipeline error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return StatusClientClosedRequest, "cancelled"
	}
	if harness.IsRateLimited(err) {
		return http.StatusTooManyRequests, "rate_limited"
	}

	code := egr.Code(err)
	switch code {
	case "empty_input":
		return http.StatusBadRequest, code
	case "unanswerable":
		return http.StatusUnprocessableEntity, code
	case "retrieval_exhausted", "store_unavailable":
		return http.StatusServiceUnavailable, code
	case "generation_failed":
		return http.StatusBadGateway, code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, code
}

// writeError logs err and writes the mapped response. Cancelled requests get
// no body since nobody is listening.
func (s *Server) writeError(c echo.Context, err error) error {
	status, code := StatusFor(err)

	ev := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("code", code).Int("status", status).Str("path", c.Path()).Msg("request failed")

	if status == StatusClientClosedRequest {
		return c.NoContent(status)
	}

	var exhausted *egr.RetrievalExhaustedError
	if errors.As(err, &exhausted) {
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(int(exhausted.RetryAfter().Seconds())))
	}

	return c.JSON(status, ErrorBody{Error: code, Message: publicMessage(err, code)})
}

// publicMessages are shown instead of the error text for failures whose
// detail belongs to upstream services or the store.
var publicMessages = map[string]string{
	"generation_failed":   "the language model request failed",
	"store_unavailable":   "the knowledge store is unavailable",
	"retrieval_exhausted": "no answer could be retrieved, try again later",
	"rate_limited":        "too many requests",
	"timeout":             "the request timed out",
}

func publicMessage(err error, code string) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	switch code {
	case "unanswerable", "empty_input":
		return err.Error()
	}
	if msg, ok := publicMessages[code]; ok {
		return msg
	}
	return "internal error"
}

// handleEchoError renders router-level errors (unknown route, wrong method)
// with the API error body.
func (s *Server) handleEchoError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		if werr := s.writeError(c, err); werr != nil {
			s.logger.Error().Err(werr).Msg("failed to write error response")
		}
		return
	}

	code := strings.ReplaceAll(strings.ToLower(http.StatusText(he.Code)), " ", "_")
	body := ErrorBody{Error: code, Message: fmt.Sprint(he.Message)}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, body)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write error response")
	}
}
