// Package middleware provides the HTTP request pipeline and the gates that
// run in front of the chat API and WebSocket handshake.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Rejection short-circuits a pipeline with a JSON response.
type Rejection struct {
	Status int
	Body   any
}

// Reject builds a Rejection whose body is {"error": message}.
func Reject(status int, message string) *Rejection {
	return &Rejection{Status: status, Body: map[string]string{"error": message}}
}

// Stage is one named step of a request pipeline. Run returns the request to
// pass on, which may carry an enriched context, or a Rejection.
type Stage struct {
	Name string
	Run  func(*http.Request) (*http.Request, *Rejection)
}

// Pipeline composes stages into chi-compatible middleware. Stages run in the
// order given; the first rejection is written and the handler is not called.
func Pipeline(logger *slog.Logger, stages ...Stage) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, st := range stages {
				nr, rej := st.Run(r)
				if rej != nil {
					logger.InfoContext(r.Context(), "Request rejected",
						"stage", st.Name, "status", rej.Status, "path", r.URL.Path)
					WriteJSON(w, rej.Status, rej.Body)
					return
				}
				if nr != nil {
					r = nr
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
