package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/easeaico/soullink/internal/auth"
	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/location"
	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/stability"
	"github.com/easeaico/soullink/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// fail maps a domain error onto a status and a user-visible message. Errors
// without a mapping are logged and reported as 500; their text is only
// exposed outside production.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		if !s.opts.Production {
			message = err.Error()
		}
	}
	writeError(w, status, message)
}

func classify(err error) (int, string) {
	var denial *gatekeeper.Denial
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid or expired token."
	case errors.Is(err, stability.ErrDepleted):
		return http.StatusPaymentRequired, "Signal lost. Restore stability to continue."
	case errors.Is(err, linkstate.ErrNoLink), errors.Is(err, stability.ErrNoLink):
		return http.StatusNotFound, "No link with this soul. Link with this soul first."
	case errors.Is(err, linkstate.ErrSoulNotFound):
		return http.StatusNotFound, "Soul not found."
	case errors.Is(err, location.ErrUnknownLocation):
		return http.StatusNotFound, "Destination does not exist."
	case errors.As(err, &denial):
		return http.StatusForbidden, denial.Reason
	case errors.Is(err, gatekeeper.ErrDenied):
		return http.StatusForbidden, "Access denied."
	case errors.Is(err, stability.ErrIdentityMismatch):
		return http.StatusForbidden, "Reward identity mismatch."
	case errors.Is(err, stability.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid reward signature."
	case errors.Is(err, stability.ErrUnknownReward):
		return http.StatusBadRequest, "Unknown reward type."
	case errors.Is(err, stability.ErrDuplicateReward):
		return http.StatusConflict, "Reward already redeemed."
	case errors.Is(err, linkstate.ErrConflict):
		return http.StatusConflict, "The link changed while your message was processed. Try again."
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable, "Neural link is unstable. Try again shortly."
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Not found."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// decode reads a JSON body into dst. A body over the size cap is 413, any
// other malformed body is 422.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusUnprocessableEntity, "Request body is required.")
		default:
			writeError(w, http.StatusUnprocessableEntity, "Malformed JSON body.")
		}
		return false
	}
	return true
}
