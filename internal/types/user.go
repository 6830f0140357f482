package types

import "time"

// User is the local account mirrored from the identity provider.
type User struct {
	ID                      string     `json:"user_id"`
	Username                string     `json:"username,omitempty"`
	DisplayName             string     `json:"display_name,omitempty"`
	AccountTier             string     `json:"account_tier"`
	CurrentTimeSlot         TimeSlot   `json:"current_time_slot"`
	StabilityOverdriveUntil *time.Time `json:"stability_overdrive_until,omitempty"`
	TotalAdsWatched         int        `json:"total_ads_watched"`
	CreatedAt               time.Time  `json:"created_at"`
}

// OverdriveActive reports whether stability decay is suppressed at now.
func (u *User) OverdriveActive(now time.Time) bool {
	return u != nil && u.StabilityOverdriveUntil != nil && now.Before(*u.StabilityOverdriveUntil)
}

// UserPersona is a mask the user presents to souls.
type UserPersona struct {
	ID             uint           `json:"id"`
	UserID         string         `json:"user_id"`
	ScreenName     string         `json:"screen_name"`
	Bio            string         `json:"bio,omitempty"`
	Age            *int           `json:"age,omitempty"`
	Gender         *string        `json:"gender,omitempty"`
	IdentityAnchor string         `json:"identity_anchor,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Minor reports whether the mask declares an age under 18.
func (p *UserPersona) Minor() bool {
	return p != nil && p.Age != nil && *p.Age < 18
}

// Location is a place in the city.
type Location struct {
	ID              string          `json:"location_id"`
	DisplayName     string          `json:"display_name"`
	Category        string          `json:"category,omitempty"`
	Description     string          `json:"description,omitempty"`
	SystemModifiers SystemModifiers `json:"system_modifiers"`
	MinIntimacy     int             `json:"min_intimacy"`
	GameLogic       map[string]any  `json:"game_logic,omitempty"`
	Lore            map[string]any  `json:"lore,omitempty"`
}

// SystemModifiers describe privacy and atmosphere of a location.
type SystemModifiers struct {
	PrivacyGate   PrivacyGate        `json:"privacy_gate"`
	MoodModifiers map[string]float64 `json:"mood_modifiers,omitempty"`
}
