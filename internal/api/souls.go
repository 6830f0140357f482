package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/location"
	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

type exploreItem struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Summary         string     `json:"summary"`
	Archetype       string     `json:"archetype"`
	PortraitURL     string     `json:"portrait_url"`
	IsLinked        bool       `json:"is_linked"`
	IntimacyTier    types.Tier `json:"intimacy_tier,omitempty"`
	SignalStability *float64   `json:"signal_stability,omitempty"`
	CurrentLocation string     `json:"current_location,omitempty"`
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser(r)

	souls, err := s.store.ListSouls(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	links, err := s.store.ListLinksForUser(ctx, user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	positions, err := s.world.SoulLocations(ctx, user.ID, user.CurrentTimeSlot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	byID := make(map[string]types.LinkState, len(links))
	for _, l := range links {
		byID[l.SoulID] = l
	}
	global := s.isGlobalArchitect(user.ID)

	items := make([]exploreItem, 0, len(souls))
	for _, soul := range souls {
		if soul.ID == location.HiddenSoulID {
			continue
		}
		item := exploreItem{
			ID:              soul.ID,
			Name:            soul.Name,
			Summary:         truncateSummary(soul.Summary),
			Archetype:       soul.Archetype,
			PortraitURL:     soul.PortraitURL,
			CurrentLocation: positions[soul.ID],
		}
		if item.Archetype == "" {
			item.Archetype = "Unknown"
		}
		if link, ok := byID[soul.ID]; ok {
			stab := link.SignalStability
			item.IsLinked = true
			item.IntimacyTier = link.IntimacyTier
			item.SignalStability = &stab
		} else if global {
			full := 100.0
			item.IsLinked = true
			item.IntimacyTier = types.TierSoulLinked
			item.SignalStability = &full
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSoulProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	soulID := chi.URLParam(r, "soulID")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	soul, err := s.store.GetSoul(ctx, soulID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	def, err := s.store.GetDefinition(ctx, soulID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Soul "+soulID+" not fully initialized.")
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              soul.ID,
		"name":            soul.Name,
		"summary":         soul.Summary,
		"archetype":       soul.Archetype,
		"portrait_url":    soul.PortraitURL,
		"appearance":      def.Aesthetic.Description,
		"voice_style":     def.Aesthetic.SpeechProfile.VoiceStyle,
		"signature_emote": def.Aesthetic.SpeechProfile.SignatureEmote,
	})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser(r)
	soulID := chi.URLParam(r, "soulID")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	soul, err := s.store.GetSoul(ctx, soulID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Soul not found.")
			return
		}
		s.fail(w, r, err)
		return
	}

	link, created, err := s.links.Ensure(ctx, user.ID, soulID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "already_linked",
			"soul_id":          soulID,
			"soul_name":        soul.Name,
			"intimacy_tier":    link.IntimacyTier,
			"signal_stability": link.SignalStability,
		})
		return
	}

	loc, err := s.resolver.Resolve(ctx, user.ID, soulID, user.CurrentTimeSlot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "linked",
		"soul_id":      soulID,
		"soul_name":    soul.Name,
		"location":     loc,
		"is_architect": link.IsArchitect,
		"message":      "Link established at " + loc + ".",
	})
}

func (s *Server) handleRelationship(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser(r)
	soulID := chi.URLParam(r, "soulID")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	link, err := s.links.Get(ctx, user.ID, soulID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loc, err := s.resolver.Resolve(ctx, user.ID, soulID, user.CurrentTimeSlot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	flags := link.Flags
	if flags == nil {
		flags = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"soul_id":             soulID,
		"intimacy_score":      link.IntimacyScore,
		"intimacy_tier":       link.IntimacyTier,
		"signal_stability":    link.SignalStability,
		"mask_integrity":      link.MaskIntegrity,
		"current_location":    loc,
		"current_mood":        link.CurrentMood,
		"is_architect":        link.IsArchitect,
		"nsfw_unlocked":       link.UnlockedNSFW,
		"total_messages_sent": link.TotalMessagesSent,
		"flags":               flags,
	})
}

func (s *Server) handleSoulMemories(w http.ResponseWriter, r *http.Request) {
	soulID := chi.URLParam(r, "soulID")
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeMemory(w, r, soulID)
}

type relocateRequest struct {
	LocationID string `json:"location_id"`
}

// handleRelocate moves a soul for everyone. Only an architect of that soul
// may do it.
func (s *Server) handleRelocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser(r)
	soulID := chi.URLParam(r, "soulID")
	var req relocateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validID("soul_id", soulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := validID("location_id", req.LocationID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	def, err := s.store.GetDefinition(ctx, soulID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !gatekeeper.IsArchitect(def, user.ID, s.opts.ArchitectUUID) {
		writeError(w, http.StatusForbidden, "Only the Architect can relocate this soul.")
		return
	}
	loc, err := s.store.GetLocation(ctx, req.LocationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Destination does not exist.")
			return
		}
		s.fail(w, r, err)
		return
	}
	if err := s.resolver.UpdateGlobal(ctx, soulID, loc.ID); err != nil {
		s.fail(w, r, err)
		return
	}

	delivered := s.hub.Broadcast(realtime.EventLocationUpdate, map[string]any{
		"soul_id":      soulID,
		"location_id":  loc.ID,
		"display_name": loc.DisplayName,
		"scope":        "global",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "relocated",
		"soul_id":     soulID,
		"location_id": loc.ID,
		"notified":    delivered,
	})
}
