package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/types"
)

func (s *Server) handleMapLocations(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	views, err := s.world.Locations(r.Context(), user.ID, user.CurrentTimeSlot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"time_slot": user.CurrentTimeSlot,
		"locations": views,
	})
}

type moveRequest struct {
	SoulID           string `json:"soul_id"`
	TargetLocationID string `json:"target_location_id"`
	LocationID       string `json:"location_id"`
}

func (s *Server) handleMapMove(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	target := req.TargetLocationID
	if target == "" {
		target = req.LocationID
	}
	if err := validID("soul_id", req.SoulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := validID("target_location_id", target); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	loc, message, err := s.world.Move(r.Context(), user.ID, req.SoulID, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.hub.Notify(user.ID, realtime.EventLocationUpdate, map[string]any{
		"soul_id":      req.SoulID,
		"location_id":  loc.ID,
		"display_name": loc.DisplayName,
		"scope":        "user",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "moved",
		"soul_id":     req.SoulID,
		"location_id": loc.ID,
		"message":     message,
	})
}

type timeAdvanceRequest struct {
	TargetSlot string `json:"target_slot"`
}

// handleTimeAdvance moves the caller's clock to the next slot, or to
// target_slot when given.
func (s *Server) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req timeAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Malformed JSON body.")
		return
	}

	previous := user.CurrentTimeSlot
	next := previous.Next()
	if req.TargetSlot != "" {
		slot, err := types.ParseTimeSlot(req.TargetSlot)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target slot: "+req.TargetSlot)
			return
		}
		next = slot
	}

	if err := s.store.UpdateTimeSlot(r.Context(), user.ID, next); err != nil {
		s.fail(w, r, err)
		return
	}
	s.resolver.InvalidateSlot(next)

	now := s.now().UTC()
	s.hub.Notify(user.ID, realtime.EventTimeAdvance, map[string]any{
		"previous_slot": previous,
		"new_time_slot": next,
		"timestamp":     now,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"previous_slot": previous,
		"new_time_slot": next,
		"timestamp":     now,
	})
}
