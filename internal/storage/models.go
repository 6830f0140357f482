package storage

import (
	"encoding/json"
	"time"
)

type soulModel struct {
	SoulID      string `gorm:"primaryKey;size:50"`
	Name        string `gorm:"size:100;not null"`
	Summary     string `gorm:"type:text"`
	PortraitURL string `gorm:"size:255"`
	Archetype   string `gorm:"size:100"`
	Version     string `gorm:"size:20"`
	CreatedAt   time.Time
}

func (soulModel) TableName() string {
	return "souls"
}

// soulPillarModel stores each definition block as its own JSONB document.
type soulPillarModel struct {
	SoulID            string          `gorm:"primaryKey;size:50"`
	Identity          json.RawMessage `gorm:"type:jsonb"`
	Aesthetic         json.RawMessage `gorm:"type:jsonb"`
	SystemsConfig     json.RawMessage `gorm:"type:jsonb"`
	Routine           json.RawMessage `gorm:"type:jsonb"`
	Relationships     json.RawMessage `gorm:"type:jsonb"`
	LoreAssociations  json.RawMessage `gorm:"type:jsonb"`
	InteractionSystem json.RawMessage `gorm:"type:jsonb"`
	Prompts           json.RawMessage `gorm:"type:jsonb"`
	MetaData          json.RawMessage `gorm:"type:jsonb"`
}

func (soulPillarModel) TableName() string {
	return "soul_pillars"
}

type soulStateModel struct {
	SoulID            string `gorm:"primaryKey;size:50"`
	CurrentLocationID string `gorm:"size:100;default:'soul_plaza'"`
	Energy            int
	Mood              string `gorm:"size:50;default:'neutral'"`
	AnxietyLevel      int
	PerformanceMode   int
	LastUpdated       time.Time
}

func (soulStateModel) TableName() string {
	return "soul_states"
}

type linkStateModel struct {
	ID                 uint    `gorm:"primaryKey"`
	UserID             string  `gorm:"size:36;not null;uniqueIndex:uq_link_state_user_soul"`
	SoulID             string  `gorm:"size:50;not null;uniqueIndex:uq_link_state_user_soul"`
	CurrentMood        string  `gorm:"size:50;default:'neutral'"`
	CurrentLocation    *string `gorm:"size:100"`
	EnergyPool         int
	IntimacyScore      int
	IntimacyTier       string `gorm:"size:20;default:'STRANGER'"`
	MaskIntegrity      float64
	SignalStability    float64
	LastStabilityDecay time.Time
	UnlockedNSFW       bool `gorm:"column:unlocked_nsfw"`
	IsArchitect        bool
	Flags              json.RawMessage `gorm:"type:jsonb"`
	TotalMessagesSent  int
	CreatedAt          time.Time
	LastInteraction    time.Time
}

func (linkStateModel) TableName() string {
	return "link_states"
}

type userModel struct {
	UserID                  string `gorm:"primaryKey;size:36"`
	Username                string `gorm:"size:50"`
	DisplayName             string `gorm:"size:100"`
	AccountTier             string `gorm:"size:20;default:'free'"`
	CurrentTimeSlot         string `gorm:"size:20;default:'morning'"`
	StabilityOverdriveUntil *time.Time
	TotalAdsWatched         int
	CreatedAt               time.Time
}

func (userModel) TableName() string {
	return "users"
}

type userPersonaModel struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:36;not null;index"`
	ScreenName     string `gorm:"size:100;not null"`
	Bio            string `gorm:"type:text"`
	Age            *int
	Gender         *string         `gorm:"size:20"`
	IdentityAnchor string          `gorm:"size:100"`
	Meta           json.RawMessage `gorm:"type:jsonb"`
	IsActive       bool
	CreatedAt      time.Time
}

func (userPersonaModel) TableName() string {
	return "user_personas"
}

type soulMemoryModel struct {
	LinkStateID uint            `gorm:"primaryKey"`
	UserID      string          `gorm:"size:36;not null"`
	SoulID      string          `gorm:"size:50;not null"`
	Summary     string          `gorm:"type:text"`
	Facts       json.RawMessage `gorm:"type:jsonb"`
	Milestones  json.RawMessage `gorm:"type:jsonb"`
	UpdatedAt   time.Time
}

func (soulMemoryModel) TableName() string {
	return "soul_memories"
}

type messageModel struct {
	MessageID string          `gorm:"primaryKey;size:36"`
	UserID    string          `gorm:"size:36;not null;index:idx_conversations_pair_time,priority:1"`
	SoulID    string          `gorm:"size:50;not null;index:idx_conversations_pair_time,priority:2"`
	Role      string          `gorm:"size:20;not null"`
	Content   string          `gorm:"type:text;not null"`
	Meta      json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time       `gorm:"index:idx_conversations_pair_time,priority:3"`
}

func (messageModel) TableName() string {
	return "conversations"
}

type locationModel struct {
	LocationID      string          `gorm:"primaryKey;size:100"`
	DisplayName     string          `gorm:"size:100;not null"`
	Category        string          `gorm:"size:50"`
	Description     string          `gorm:"type:text"`
	SystemModifiers json.RawMessage `gorm:"type:jsonb"`
	MinIntimacy     int
	GameLogic       json.RawMessage `gorm:"type:jsonb"`
	Lore            json.RawMessage `gorm:"type:jsonb"`
}

func (locationModel) TableName() string {
	return "locations"
}

type adImpressionModel struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:36;not null;uniqueIndex:uq_ad_event"`
	SoulID         string `gorm:"size:50"`
	Network        string `gorm:"size:50;not null;uniqueIndex:uq_ad_event"`
	NetworkEventID string `gorm:"size:128;not null;uniqueIndex:uq_ad_event"`
	Type           string `gorm:"size:30"`
	Placement      string `gorm:"size:50"`
	RewardType     string `gorm:"size:30"`
	RewardAmount   float64
	SSVVerified    bool `gorm:"column:ssv_verified"`
	CreatedAt      time.Time
}

func (adImpressionModel) TableName() string {
	return "ad_impressions"
}

func allModels() []any {
	return []any{
		&soulModel{},
		&soulPillarModel{},
		&soulStateModel{},
		&linkStateModel{},
		&userModel{},
		&userPersonaModel{},
		&soulMemoryModel{},
		&messageModel{},
		&locationModel{},
		&adImpressionModel{},
	}
}

// marshalJSON encodes a value into JSONB, returning nil for empty values.
func marshalJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// unmarshalJSON decodes JSONB into the provided target.
func unmarshalJSON(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
