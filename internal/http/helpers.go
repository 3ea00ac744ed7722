package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"finadvisor/internal/log"
	"finadvisor/internal/middleware/trace"
	"finadvisor/internal/pipeline"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.DebugContext(r.Context(), "Invalid request body",
		log.FieldPath, r.URL.Path, log.FieldRequestID, trace.FromRequest(r), log.FieldError, err)
	writeError(w, http.StatusBadRequest, err.Error())
}

// statusForKind maps a pipeline failure to the facade status.
func statusForKind(k pipeline.Kind) int {
	switch k {
	case pipeline.Unauthenticated, pipeline.Rejected:
		return http.StatusUnauthorized
	case pipeline.TimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
