// Package middleware provides the HTTP middleware installed on the router.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aanand-mishra/persons-api/internal/logger"
	"github.com/aanand-mishra/persons-api/internal/metrics"
	"github.com/aanand-mishra/persons-api/internal/utils/response"
)

// RequestIDHeader is read from the request when present and echoed back.
const RequestIDHeader = "X-Request-ID"

// RequestLogger assigns a request id, stores a request-scoped logger in
// the context and logs every finished request.
func RequestLogger(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLog := log.With("request_id", requestID)
			r = r.WithContext(logger.IntoContext(r.Context(), reqLog))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			reqLog.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// Recoverer turns a handler panic into a logged 500 so no stack trace
// reaches the client.
func Recoverer(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.FromContext(r.Context(), log).Error("panic while handling request",
						"panic", p,
						"method", r.Method,
						"path", r.URL.Path,
					)
					response.WriteJSON(w, http.StatusInternalServerError, response.Response{
						Status: response.StatusError,
						Error:  "internal server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts, durations and in-flight requests,
// labelled by the matched route template.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		metrics.IncInFlight()
		defer metrics.DecInFlight()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
