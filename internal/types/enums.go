package types

import (
	"fmt"
	"strings"
)

// Tier is the discrete intimacy level derived from an intimacy score.
type Tier string

const (
	TierStranger     Tier = "STRANGER"
	TierAcquaintance Tier = "ACQUAINTANCE"
	TierTrusted      Tier = "TRUSTED"
	TierFriendship   Tier = "FRIENDSHIP"
	TierSoulLinked   Tier = "SOUL_LINKED"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierStranger, TierAcquaintance, TierTrusted, TierFriendship, TierSoulLinked}

// Rank orders tiers from 0 (STRANGER) to 4 (SOUL_LINKED).
func (t Tier) Rank() int {
	switch t {
	case TierStranger:
		return 0
	case TierAcquaintance:
		return 1
	case TierTrusted:
		return 2
	case TierFriendship:
		return 3
	case TierSoulLinked:
		return 4
	default:
		panic(fmt.Sprintf("unknown intimacy tier %q", string(t)))
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierStranger, TierAcquaintance, TierTrusted, TierFriendship, TierSoulLinked:
		return true
	default:
		return false
	}
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown intimacy tier %q", s)
	}
	return t, nil
}

// TierFor maps an intimacy score onto its tier.
func TierFor(score int) Tier {
	switch {
	case score >= 86:
		return TierSoulLinked
	case score >= 71:
		return TierFriendship
	case score >= 41:
		return TierTrusted
	case score >= 21:
		return TierAcquaintance
	default:
		return TierStranger
	}
}

// TimeSlot is a segment of the cyclic in-world day.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
	SlotNight     TimeSlot = "night"
	SlotHomeTime  TimeSlot = "home_time"
)

// TimeSlots lists the slots in cycle order.
var TimeSlots = []TimeSlot{SlotMorning, SlotAfternoon, SlotEvening, SlotNight, SlotHomeTime}

// Next returns the following slot; HOME_TIME wraps to MORNING.
func (s TimeSlot) Next() TimeSlot {
	switch s {
	case SlotMorning:
		return SlotAfternoon
	case SlotAfternoon:
		return SlotEvening
	case SlotEvening:
		return SlotNight
	case SlotNight:
		return SlotHomeTime
	case SlotHomeTime:
		return SlotMorning
	default:
		panic(fmt.Sprintf("unknown time slot %q", string(s)))
	}
}

// Valid reports whether s is a known slot.
func (s TimeSlot) Valid() bool {
	switch s {
	case SlotMorning, SlotAfternoon, SlotEvening, SlotNight, SlotHomeTime:
		return true
	default:
		return false
	}
}

// ParseTimeSlot parses a slot name, case-insensitively.
func ParseTimeSlot(s string) (TimeSlot, error) {
	slot := TimeSlot(strings.ToLower(strings.TrimSpace(s)))
	if !slot.Valid() {
		return "", fmt.Errorf("unknown time slot %q", s)
	}
	return slot, nil
}

// DayType selects the weekday or weekend half of a routine.
type DayType string

const (
	Weekday DayType = "weekday"
	Weekend DayType = "weekend"
)

// PrivacyGate classifies how private a location is.
type PrivacyGate string

const (
	PrivacyPublic      PrivacyGate = "Public"
	PrivacySemiPrivate PrivacyGate = "Semi-Private"
	PrivacyPrivate     PrivacyGate = "Private"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentCeiling is the rendered content policy tag.
type ContentCeiling string

const (
	CeilingSFW          ContentCeiling = "SFW_ONLY"
	CeilingUnrestricted ContentCeiling = "UNRESTRICTED"
)
