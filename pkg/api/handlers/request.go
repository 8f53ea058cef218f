// Package handlers provides the HTTP handlers of the memopt API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goclaw/memopt/pkg/api/middleware"
	"github.com/goclaw/memopt/pkg/api/response"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Logger is the logging surface the handlers need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// decodeJSON reads and validates a JSON body. It writes the error response
// itself and returns false when the request cannot be served.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	reqID := middleware.GetRequestID(r.Context())

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.Error(w, http.StatusRequestEntityTooLarge, response.ErrCodePayloadTooLarge, "Request body too large", reqID)
		case errors.Is(err, io.EOF):
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Request body is required", reqID)
		default:
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", reqID)
		}
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), reqID)
			return false
		}
		details := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			field := fe.Namespace()
			if _, rest, ok := strings.Cut(field, "."); ok {
				field = rest
			}
			details[field] = fe.Tag()
		}
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "Validation failed", details, reqID)
		return false
	}
	return true
}

// pairFromPath returns the user and bot ids of the route.
func pairFromPath(w http.ResponseWriter, r *http.Request) (userID, botID string, ok bool) {
	userID = strings.TrimSpace(chi.URLParam(r, "userID"))
	botID = strings.TrimSpace(chi.URLParam(r, "botID"))
	if userID == "" || botID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "User ID and bot ID are required", middleware.GetRequestID(r.Context()))
		return "", "", false
	}
	return userID, botID, true
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(w http.ResponseWriter, r *http.Request, name string, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > max {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			name+" must be an integer between 0 and "+strconv.Itoa(max), middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return v, true
}
