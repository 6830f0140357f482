package types

import "time"

// LinkState is the mutable relationship record for one (user, soul) pair.
type LinkState struct {
	ID                 uint           `json:"id"`
	UserID             string         `json:"user_id"`
	SoulID             string         `json:"soul_id"`
	CurrentMood        string         `json:"current_mood"`
	CurrentLocation    *string        `json:"current_location,omitempty"`
	EnergyPool         int            `json:"energy_pool"`
	IntimacyScore      int            `json:"intimacy_score"`
	IntimacyTier       Tier           `json:"intimacy_tier"`
	MaskIntegrity      float64        `json:"mask_integrity"`
	SignalStability    float64        `json:"signal_stability"`
	LastStabilityDecay time.Time      `json:"last_stability_decay"`
	UnlockedNSFW       bool           `json:"unlocked_nsfw"`
	IsArchitect        bool           `json:"is_architect"`
	Flags              map[string]any `json:"flags,omitempty"`
	TotalMessagesSent  int            `json:"total_messages_sent"`
	CreatedAt          time.Time      `json:"created_at"`
	LastInteraction    time.Time      `json:"last_interaction"`
}

// SoulMemory is the compressed relationship history for a link.
type SoulMemory struct {
	LinkStateID uint              `json:"link_state_id"`
	UserID      string            `json:"user_id"`
	SoulID      string            `json:"soul_id"`
	Summary     string            `json:"summary"`
	Facts       map[string]string `json:"facts,omitempty"`
	Milestones  []string          `json:"milestones,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Message is one row of the conversation log.
type Message struct {
	ID        string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	SoulID    string         `json:"soul_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MetaFlagChronicle marks narrator interjections in Message.Meta["flag"].
const MetaFlagChronicle = "chronicle"

// IsChronicle reports whether the message is a narrator interjection.
func (m Message) IsChronicle() bool {
	flag, _ := m.Meta["flag"].(string)
	return flag == MetaFlagChronicle
}

// AdImpression is the append-only audit row for ad rewards and grants.
type AdImpression struct {
	ID             uint      `json:"id"`
	UserID         string    `json:"user_id"`
	SoulID         string    `json:"soul_id,omitempty"`
	Network        string    `json:"network"`
	NetworkEventID string    `json:"network_event_id"`
	Type           string    `json:"type"`
	Placement      string    `json:"placement,omitempty"`
	RewardType     string    `json:"reward_type"`
	RewardAmount   float64   `json:"reward_amount"`
	SSVVerified    bool      `json:"ssv_verified"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatTurn is one role/content entry sent to a completion model.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
