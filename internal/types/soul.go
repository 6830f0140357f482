package types

import "time"

// Soul is the static identity of a persona.
type Soul struct {
	ID          string    `json:"soul_id"`
	Name        string    `json:"name"`
	Summary     string    `json:"summary"`
	PortraitURL string    `json:"portrait_url"`
	Archetype   string    `json:"archetype,omitempty"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// SoulDefinition is the logic pillar of a persona: everything the prompt and
// policy layers read. It is immutable between seeds.
type SoulDefinition struct {
	SoulID        string              `json:"soul_id"`
	Identity      map[string]any      `json:"identity,omitempty"`
	Aesthetic     Aesthetic           `json:"aesthetic"`
	Systems       SystemsConfig       `json:"systems_config"`
	Routine       Routine             `json:"routine"`
	Relationships map[string][]string `json:"relationships,omitempty"`
	Lore          LoreAssociations    `json:"lore_associations"`
	Interaction   InteractionSystem   `json:"interaction_system"`
	Prompts       Prompts             `json:"prompts"`
	Meta          Meta                `json:"meta_data"`
}

// Aesthetic carries the visual description and speech profile.
type Aesthetic struct {
	Description   string        `json:"description,omitempty"`
	PortraitPath  string        `json:"portrait_path,omitempty"`
	SpeechProfile SpeechProfile `json:"speech_profile"`
}

// SpeechProfile describes how a soul talks.
type SpeechProfile struct {
	VoiceStyle          string   `json:"voice_style,omitempty"`
	SignatureEmote      string   `json:"signature_emote,omitempty"`
	ForbiddenBehaviours []string `json:"forbidden_behaviours,omitempty"`
}

// SystemsConfig holds capability flags and consent guidance.
type SystemsConfig struct {
	Capabilities Capabilities `json:"capabilities"`
	Consent      Consent      `json:"consent"`
}

// Consent carries free-text behavioural grounding.
type Consent struct {
	Notes string `json:"notes,omitempty"`
}

// Capabilities are the per-persona content switches.
type Capabilities struct {
	Romance             bool `json:"romance"`
	SexualContent       bool `json:"sexual_content"`
	ExplicitLanguage    bool `json:"explicit_language"`
	EmotionalDependency bool `json:"emotional_dependency"`
}

// Routine maps time slots to locations through zone preferences.
type Routine struct {
	TemplateID          string                       `json:"template_id,omitempty"`
	LocationPreferences map[string]string            `json:"location_preferences,omitempty"`
	ScheduleOverrides   map[string]map[string]string `json:"schedule_overrides,omitempty"`
}

// LoreAssociations groups lore by clearance.
type LoreAssociations struct {
	Common  []string `json:"common,omitempty"`
	Rare    []string `json:"rare,omitempty"`
	Secrets []string `json:"secrets,omitempty"`
}

// InteractionSystem configures behaviour per intimacy tier.
type InteractionSystem struct {
	IntimacyTiers map[Tier]TierConfig `json:"intimacy_tiers,omitempty"`
}

// TierConfig is the behaviour for one tier.
type TierConfig struct {
	LLMBias           string   `json:"llm_bias,omitempty"`
	AllowedTopics     []string `json:"allowed_topics,omitempty"`
	ForbiddenTopics   []string `json:"forbidden_topics,omitempty"`
	LocationAccess    []string `json:"location_access,omitempty"`
	AffectionModifier float64  `json:"affection_modifier,omitempty"`
}

// Prompts holds prompt overrides; {user_name} is substituted at assembly.
type Prompts struct {
	SystemAnchorOverride string `json:"system_anchor_override,omitempty"`
}

// Meta carries recognition and developer settings.
type Meta struct {
	RecognitionProtocol RecognitionProtocol `json:"recognition_protocol"`
	DevConfig           DevConfig           `json:"dev_config"`
}

// RecognitionProtocol controls which lore entities the persona acknowledges.
type RecognitionProtocol struct {
	ArchitectAwareness  bool `json:"architect_awareness"`
	AlyssaAwareness     bool `json:"alyssa_awareness"`
	PrimordialAwareness bool `json:"primordial_awareness"`
	LinkerAwareness     bool `json:"linker_awareness"`
	CreatorAwareness    bool `json:"creator_awareness"`
}

// DevConfig lists the users allowed to bypass gates for this persona.
type DevConfig struct {
	ArchitectIDs []string `json:"architect_ids,omitempty"`
	Title        string   `json:"title,omitempty"`
}

// IsArchitect reports whether userID is on the architect allow-list.
func (d *SoulDefinition) IsArchitect(userID string) bool {
	if d == nil || userID == "" {
		return false
	}
	for _, id := range d.Meta.DevConfig.ArchitectIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ArchitectTitle returns the configured title or "The Architect".
func (d *SoulDefinition) ArchitectTitle() string {
	if d == nil || d.Meta.DevConfig.Title == "" {
		return "The Architect"
	}
	return d.Meta.DevConfig.Title
}

// SoulState is the hot, globally visible live state of a persona.
type SoulState struct {
	SoulID            string    `json:"soul_id"`
	CurrentLocationID string    `json:"current_location_id"`
	Energy            int       `json:"energy"`
	Mood              string    `json:"mood"`
	AnxietyLevel      int       `json:"anxiety_level"`
	PerformanceMode   int       `json:"performance_mode"`
	LastUpdated       time.Time `json:"last_updated"`
}
