package api

import (
	"net/http"

	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/stability"
)

func (s *Server) handleAdReward(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var payload stability.SSVPayload
	if !decode(w, r, &payload) {
		return
	}
	if payload.RewardType == stability.RewardStabilityBoost {
		if err := validID("soul_id", payload.SoulID); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	red, err := s.stability.Redeem(r.Context(), user.ID, payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body := map[string]any{
		"success":     true,
		"reward_type": red.RewardType,
		"message":     "Signal restored!",
	}
	if red.Link != nil {
		body["soul_id"] = red.Link.SoulID
		body["new_stability"] = red.Link.SignalStability
		s.hub.Notify(user.ID, realtime.EventIntimacyUpdate, map[string]any{
			"soul_id":          red.Link.SoulID,
			"intimacy_score":   red.Link.IntimacyScore,
			"tier":             red.Link.IntimacyTier,
			"mood":             red.Link.CurrentMood,
			"signal_stability": red.Link.SignalStability,
		})
	}
	if red.OverdriveUntil != nil {
		body["overdrive_until"] = red.OverdriveUntil
		body["message"] = "Overdrive engaged."
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAdConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.stability.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"applovin_sdk_key":            s.opts.Ads.AppLovinSDKKey,
		"tapjoy_sdk_key":              s.opts.Ads.TapjoySDKKey,
		"tapjoy_app_id":               s.opts.Ads.TapjoyAppID,
		"stability_decay_rate":        cfg.DecayRate,
		"stability_warning_threshold": cfg.WarningThreshold,
		"ad_cooldown_seconds":         int(cfg.Cooldown.Seconds()),
	})
}

// handleUserStability reports one link's stability, or the weakest link when
// no soul is named.
func (s *Server) handleUserStability(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	soulID := r.URL.Query().Get("soul_id")
	if soulID != "" {
		if err := validID("soul_id", soulID); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	cfg := s.stability.Config()
	body := map[string]any{
		"signal_stability":  100.0,
		"decay_rate":        cfg.DecayRate,
		"warning_threshold": cfg.WarningThreshold,
		"last_updated":      s.now().UTC(),
	}
	if user.OverdriveActive(s.now()) {
		body["overdrive_until"] = user.StabilityOverdriveUntil
	}

	links, err := s.store.ListLinksForUser(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	found := false
	for _, l := range links {
		if soulID != "" && l.SoulID != soulID {
			continue
		}
		if !found || l.SignalStability < body["signal_stability"].(float64) {
			body["signal_stability"] = l.SignalStability
			body["last_updated"] = l.LastStabilityDecay
			body["soul_id"] = l.SoulID
			found = true
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type nsfwToggleRequest struct {
	SoulID      string `json:"soul_id"`
	NSFWEnabled bool   `json:"nsfw_enabled"`
}

func (s *Server) handleNSFWToggle(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	var req nsfwToggleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validID("soul_id", req.SoulID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	link, err := s.links.SetNSFW(r.Context(), user.ID, req.SoulID, req.NSFWEnabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"soul_id":      req.SoulID,
		"nsfw_enabled": link.UnlockedNSFW,
	})
}
