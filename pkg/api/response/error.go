package response

import (
	"errors"
	"net/http"

	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/outcome"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// statusRules is checked in order; the first rule with a matching target
// decides the status.
var statusRules = []struct {
	status  int
	targets []error
}{
	{http.StatusNotFound, []error{ErrNotFound, memory.ErrNoHistory}},
	{http.StatusBadRequest, []error{
		ErrInvalidInput,
		outcome.ErrInvalidAnalysis,
		memory.ErrInvalidUserID,
		memory.ErrInvalidBotID,
		memory.ErrInvalidWindow,
		memory.ErrInvalidMemoryID,
		memory.ErrUnknownPattern,
	}},
	{http.StatusServiceUnavailable, []error{ErrServiceUnavailable}},
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            ErrCodeBadRequest,
	http.StatusNotFound:              ErrCodeNotFound,
	http.StatusRequestEntityTooLarge: ErrCodePayloadTooLarge,
	http.StatusUnprocessableEntity:   ErrCodeValidationFailed,
	http.StatusServiceUnavailable:    ErrCodeServiceUnavailable,
	http.StatusGatewayTimeout:        ErrCodeGatewayTimeout,
}

// HTTPStatusFromError maps API and engine errors to HTTP status codes.
// Engine errors without a known sentinel map by kind: slow upstreams give
// 504, everything else 500.
func HTTPStatusFromError(err error) int {
	for _, rule := range statusRules {
		for _, target := range rule.targets {
			if errors.Is(err, target) {
				return rule.status
			}
		}
	}
	if memory.IsKind(err, memory.KindUpstreamTimeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ErrorCodeFromStatus returns the error code for status, defaulting to
// ErrCodeInternalServer.
func ErrorCodeFromStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return ErrCodeInternalServer
}

// HandleError writes the response for err. The text of a 500 is never
// echoed back.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	Error(w, status, ErrorCodeFromStatus(status), msg, requestID)
}
