// Package middleware provides HTTP middleware components.
package middleware

import (
	"net/http"
	"time"

	"github.com/goclaw/memopt/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests. Server errors are
// logged at warn level.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := wrapWriter(w)
			next.ServeHTTP(sw, r)

			status := sw.Status()
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern(r),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", sw.size,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if userID, botID := pairParams(r); userID != "" {
				args = append(args, "user_id", userID, "bot_id", botID)
			}
			if status >= http.StatusInternalServerError {
				log.WarnContext(r.Context(), "HTTP request", args...)
				return
			}
			log.InfoContext(r.Context(), "HTTP request", args...)
		})
	}
}

// BodyLimit caps request bodies at maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
