package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/logger"
)

// Recovery turns a handler panic into a 500 error response. If the handler
// had already started its response, the panic is only logged.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapWriter(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(p)
				}

				args := []any{
					"panic", p,
					"method", r.Method,
					"route", routePattern(r),
					"request_id", GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				}
				if userID, botID := pairParams(r); userID != "" {
					args = append(args, "user_id", userID, "bot_id", botID)
				}
				log.ErrorContext(r.Context(), "Panic recovered", args...)

				if sw.status != 0 {
					return
				}
				response.Error(sw, http.StatusInternalServerError, response.ErrCodeInternalServer,
					"Internal server error", requestIDOrUnknown(r.Context()))
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
