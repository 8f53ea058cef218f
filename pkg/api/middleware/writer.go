package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// statusWriter records the status code and body size a handler produced.
// The first WriteHeader wins; a Write without one counts as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.size += n
	return n, err
}

// Status returns the recorded status, 200 when nothing was written.
func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// routePattern is the chi pattern that served r, or the raw path when the
// request was not routed by chi.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := strings.TrimSpace(rc.RoutePattern()); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// pairParams returns the user and bot ids of a routed request.
func pairParams(r *http.Request) (userID, botID string) {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "", ""
	}
	return rc.URLParam("userID"), rc.URLParam("botID")
}
