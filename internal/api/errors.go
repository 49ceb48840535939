package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dex-analytics/internal/observability"
)

// requestError is a caller mistake. It is rendered as 400 with its message.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// handlerFunc is an HTTP handler that reports failures instead of writing them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// wrap is the single place handler errors are turned into responses.
// Request errors become 400 with a plain-text body, anything else an empty 500.
func (s *Server) wrap(route string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		if err := h(rec, r); err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				rec.Header().Set("Content-Type", "text/plain; charset=utf-8")
				rec.WriteHeader(http.StatusBadRequest)
				_, _ = rec.Write([]byte(reqErr.msg))
			} else {
				s.logger.Error("request failed",
					zap.String("route", route),
					zap.String("url", r.URL.String()),
					zap.Error(err))
				rec.WriteHeader(http.StatusInternalServerError)
			}
		}
		observability.RecordHTTPRequest(route, strconv.Itoa(rec.code), time.Since(start).Seconds())
	})
}
