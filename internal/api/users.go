package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

const maxScreenNameRunes = 50

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	persona, err := s.store.GetActivePersona(r.Context(), user.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	body := map[string]any{
		"user_id":           user.ID,
		"username":          user.Username,
		"display_name":      user.DisplayName,
		"account_tier":      user.AccountTier,
		"current_time_slot": user.CurrentTimeSlot,
		"total_ads_watched": user.TotalAdsWatched,
		"overdrive_active":  user.OverdriveActive(s.now()),
		"is_architect":      s.isGlobalArchitect(user.ID),
		"active_persona":    persona,
	}
	if user.StabilityOverdriveUntil != nil {
		body["stability_overdrive_until"] = user.StabilityOverdriveUntil
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	personas, err := s.store.ListPersonas(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}

type personaRequest struct {
	ScreenName     string         `json:"screen_name"`
	Bio            string         `json:"bio"`
	Age            *int           `json:"age"`
	Gender         *string        `json:"gender"`
	IdentityAnchor string         `json:"identity_anchor"`
	Meta           map[string]any `json:"meta"`
	Activate       bool           `json:"activate"`
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req personaRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(stripTags(req.ScreenName))
	if name == "" || len([]rune(name)) > maxScreenNameRunes {
		writeError(w, http.StatusUnprocessableEntity, "screen_name must be 1-50 characters")
		return
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 150) {
		writeError(w, http.StatusUnprocessableEntity, "age must be between 0 and 150")
		return
	}

	created, err := s.store.CreatePersona(r.Context(), types.UserPersona{
		UserID:         user.ID,
		ScreenName:     name,
		Bio:            strings.TrimSpace(stripTags(req.Bio)),
		Age:            req.Age,
		Gender:         req.Gender,
		IdentityAnchor: req.IdentityAnchor,
		Meta:           req.Meta,
		IsActive:       req.Activate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleActivatePersona(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	id, err := strconv.ParseUint(chi.URLParam(r, "personaID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid persona id")
		return
	}
	persona, err := s.store.ActivatePersona(r.Context(), user.ID, uint(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Persona not found.")
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, persona)
}

type profileUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	Gender      *string `json:"gender"`
	Age         *int    `json:"age"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req profileUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	patch := storage.ProfilePatch{Gender: req.Gender, Age: req.Age}
	if req.DisplayName != nil {
		name := strings.TrimSpace(stripTags(*req.DisplayName))
		if name == "" || len([]rune(name)) > maxScreenNameRunes {
			writeError(w, http.StatusUnprocessableEntity, "display_name must be 1-50 characters")
			return
		}
		patch.DisplayName = &name
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(stripTags(*req.Bio))
		patch.Bio = &bio
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 150) {
		writeError(w, http.StatusUnprocessableEntity, "age must be between 0 and 150")
		return
	}

	persona, err := s.store.UpdateProfile(r.Context(), user.ID, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Identity Synchronized",
		"persona": persona,
	})
}

type dashboardItem struct {
	SoulID          string     `json:"soul_id"`
	Name            string     `json:"name"`
	PortraitURL     string     `json:"portrait_url"`
	IntimacyScore   int        `json:"intimacy_score"`
	IntimacyTier    types.Tier `json:"intimacy_tier"`
	SignalStability float64    `json:"signal_stability"`
	CurrentLocation string     `json:"current_location,omitempty"`
	CurrentMood     string     `json:"current_mood,omitempty"`
	IsArchitect     bool       `json:"is_architect"`
	NSFWUnlocked    bool       `json:"nsfw_unlocked"`
	LastInteraction time.Time  `json:"last_interaction,omitzero"`
}

// handleDashboard lists the caller's links with each soul's position for the
// caller's current slot.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.currentUser(r)
	links, err := s.store.ListLinksForUser(ctx, user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	souls, err := s.store.ListSouls(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	positions, err := s.world.SoulLocations(ctx, user.ID, user.CurrentTimeSlot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	byID := make(map[string]types.Soul, len(souls))
	for _, soul := range souls {
		byID[soul.ID] = soul
	}

	items := make([]dashboardItem, 0, len(links))
	for _, l := range links {
		soul, ok := byID[l.SoulID]
		if !ok {
			continue
		}
		item := dashboardItem{
			SoulID:          l.SoulID,
			Name:            soul.Name,
			PortraitURL:     soul.PortraitURL,
			IntimacyScore:   l.IntimacyScore,
			IntimacyTier:    l.IntimacyTier,
			SignalStability: l.SignalStability,
			CurrentLocation: positions[l.SoulID],
			CurrentMood:     l.CurrentMood,
			IsArchitect:     l.IsArchitect,
			NSFWUnlocked:    l.UnlockedNSFW,
			LastInteraction: l.LastInteraction,
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           user.ID,
		"current_time_slot": user.CurrentTimeSlot,
		"overdrive_active":  user.OverdriveActive(s.now()),
		"links":             items,
	})
}
