package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/iconidentify/vidgate/internal/domain"
)

// AttemptJSON is the wire form of one fallback attempt.
type AttemptJSON struct {
	Profile   string `json:"profile"`
	Outcome   string `json:"outcome"`
	Kind      string `json:"kind,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ErrorResponse is the JSON error body shared by all endpoints.
// Attempts is present only for fallback failures.
type ErrorResponse struct {
	Error    string        `json:"error"`
	Message  string        `json:"message"`
	Attempts []AttemptJSON `json:"attempts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind domain.Kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: string(kind), Message: message})
}

// writeFailure maps a controller failure onto status, kind, and the
// attempt list. Untranslated errors are logged under a correlation id
// and surfaced as an opaque Internal.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ff *domain.FallbackFailure
	if errors.As(err, &ff) {
		writeJSON(w, statusForFailure(ff), ErrorResponse{
			Error:    string(ff.Kind),
			Message:  failureMessage(ff),
			Attempts: attemptsJSON(ff.Attempts),
		})
		return
	}

	correlationID := uuid.New().String()
	logger.Error("unclassified handler error",
		"correlation_id", correlationID,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, domain.KindInternal, "internal error")
}

func statusForFailure(ff *domain.FallbackFailure) int {
	if ff.Reason == domain.FailureTimeout {
		return http.StatusGatewayTimeout
	}
	if ff.Kind == domain.KindNoProfilesAvailable {
		return http.StatusUnsupportedMediaType
	}
	if ff.Reason == domain.FailureExhausted {
		return http.StatusBadGateway
	}

	switch ff.Kind {
	case domain.KindNotFound, domain.KindGeoBlocked:
		return http.StatusNotFound
	case domain.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindTooLong, domain.KindBadFormat, domain.KindAmbiguousInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func failureMessage(ff *domain.FallbackFailure) string {
	switch ff.Reason {
	case domain.FailureTimeout:
		return "request deadline exceeded"
	case domain.FailureExhausted:
		return "all player profiles failed"
	default:
		if ff.Kind == domain.KindNoProfilesAvailable {
			return "no usable player profiles"
		}
		return "extraction failed"
	}
}

func attemptsJSON(attempts []domain.AttemptRecord) []AttemptJSON {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]AttemptJSON, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptJSON{
			Profile:   a.Profile,
			Outcome:   string(a.Outcome),
			Kind:      string(a.Kind),
			ElapsedMs: a.ElapsedMs(),
		})
	}
	return out
}
