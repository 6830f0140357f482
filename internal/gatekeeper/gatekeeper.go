// Package gatekeeper evaluates the policies that constrain generation and
// movement for a (user, soul) pair. Every function is pure.
package gatekeeper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/easeaico/soullink/internal/types"
)

// ErrDenied marks a policy refusal. The wrapped message is user-visible.
var ErrDenied = errors.New("denied by policy")

// Denial is a policy refusal with a human-readable reason.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string { return d.Reason }

func (d *Denial) Unwrap() error { return ErrDenied }

// Deny builds a Denial.
func Deny(format string, args ...any) error {
	return &Denial{Reason: fmt.Sprintf(format, args...)}
}

// TierFor maps an intimacy score onto its tier.
func TierFor(score int) types.Tier {
	return types.TierFor(score)
}

// unrestrictedTier reports whether a tier may unlock adult content in private.
func unrestrictedTier(t types.Tier) bool {
	switch t {
	case types.TierTrusted, types.TierSoulLinked:
		return true
	case types.TierStranger, types.TierAcquaintance, types.TierFriendship:
		return false
	default:
		panic(fmt.Sprintf("unknown intimacy tier %q", string(t)))
	}
}

// CeilingInput gathers the inputs of the content ceiling decision.
type CeilingInput struct {
	Location     *types.Location
	Tier         types.Tier
	Definition   *types.SoulDefinition
	Persona      *types.UserPersona
	UnlockedNSFW bool
}

// ContentCeiling decides between SFW_ONLY and UNRESTRICTED. The age gate wins
// over every other input. Architects follow the same unlock, privacy and tier
// rules as everyone else.
func ContentCeiling(in CeilingInput) types.ContentCeiling {
	if in.Persona.Minor() {
		return types.CeilingSFW
	}
	if in.Definition == nil || !in.Definition.Systems.Capabilities.SexualContent {
		return types.CeilingSFW
	}
	if !in.UnlockedNSFW || in.Location == nil {
		return types.CeilingSFW
	}
	if in.Location.SystemModifiers.PrivacyGate == types.PrivacyPrivate && unrestrictedTier(in.Tier) {
		return types.CeilingUnrestricted
	}
	return types.CeilingSFW
}

// TierConfig returns the behaviour block for a tier, falling back to STRANGER.
func TierConfig(def *types.SoulDefinition, tier types.Tier) (types.TierConfig, bool) {
	if def == nil {
		return types.TierConfig{}, false
	}
	if cfg, ok := def.Interaction.IntimacyTiers[tier]; ok {
		return cfg, true
	}
	cfg, ok := def.Interaction.IntimacyTiers[types.TierStranger]
	return cfg, ok
}

// TierLogic returns the tier's llm_bias with {user_name} substituted.
func TierLogic(def *types.SoulDefinition, tier types.Tier, userName string) string {
	cfg, _ := TierConfig(def, tier)
	return strings.ReplaceAll(cfg.LLMBias, "{user_name}", userName)
}

// CanMove decides whether the link holder may take the soul to loc.
func CanMove(link *types.LinkState, loc *types.Location) (bool, string) {
	if loc == nil {
		return false, "Unknown location."
	}
	if link == nil {
		return false, "No link established."
	}
	if !link.IsArchitect && link.IntimacyScore < loc.MinIntimacy {
		return false, fmt.Sprintf("Requires %d intimacy.", loc.MinIntimacy)
	}
	return true, "Eligible."
}

// IsArchitect reports whether userID may bypass gates for the soul. The
// definition allow-list and the configured global architect are the only sources.
func IsArchitect(def *types.SoulDefinition, userID, globalArchitect string) bool {
	if userID == "" {
		return false
	}
	if globalArchitect != "" && userID == globalArchitect {
		return true
	}
	return def.IsArchitect(userID)
}

// CanChat reports whether the budget allows another turn.
func CanChat(link *types.LinkState) bool {
	return link.IsArchitect || link.SignalStability > 0
}
