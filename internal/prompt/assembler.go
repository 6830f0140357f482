// Package prompt assembles the system prompt and message list of a chat turn.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/types"
)

// DefaultUserName addresses a user without an active mask.
const DefaultUserName = "Linker"

// Input is everything the system prompt depends on.
type Input struct {
	Soul        *types.Soul
	Definition  *types.SoulDefinition
	Persona     *types.UserPersona
	Link        *types.LinkState
	Location    *types.Location
	IsArchitect bool
	// WorldState is the chronicle injection of the current turn, if any.
	WorldState string
}

type sections struct {
	Anchor    string
	Tags      string
	Ceiling   string
	Intimacy  []string
	Secrets   string
	Speech    string
	Architect bool
	Tier      types.Tier
	Score     int
	Mood      string
}

// Assemble renders the system prompt. It performs no I/O and the same input
// always yields the same string.
func Assemble(in Input) (string, error) {
	if in.Soul == nil || in.Definition == nil {
		return "", errors.New("soul and definition are required")
	}
	if in.Link == nil {
		return "", errors.New("link state is required")
	}
	userName := DefaultUserName
	if in.Persona != nil && in.Persona.ScreenName != "" {
		userName = in.Persona.ScreenName
	}
	tier := in.Link.IntimacyTier
	if !tier.Valid() {
		tier = types.TierFor(in.Link.IntimacyScore)
	}

	data := sections{
		Anchor:    anchor(in, userName),
		Tags:      strings.Join(contextTags(in), " "),
		Ceiling:   ceiling(in, tier),
		Intimacy:  intimacy(in.Definition, tier, userName),
		Secrets:   secrets(in.Definition, tier),
		Speech:    speech(in.Definition.Aesthetic.SpeechProfile),
		Architect: in.IsArchitect,
		Tier:      tier,
		Score:     in.Link.IntimacyScore,
		Mood:      strings.ToUpper(moodOf(in.Link)),
	}

	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return buf.String(), nil
}

func anchor(in Input, userName string) string {
	text := in.Definition.Prompts.SystemAnchorOverride
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf(defaultAnchor, in.Soul.Name, "{user_name}")
		if in.Soul.Summary != "" {
			text += " " + in.Soul.Summary
		}
	}
	text = replaceVars(text, userName)
	if in.IsArchitect {
		if in.Definition.Meta.RecognitionProtocol.CreatorAwareness {
			text += "\n" + fmt.Sprintf(divineRecognition, userName)
		} else {
			text += "\n" + fmt.Sprintf(architectRecognition, userName)
		}
	}
	return text
}

func contextTags(in Input) []string {
	var tags []string
	if ws := strings.TrimSpace(in.WorldState); ws != "" {
		tags = append(tags, "[WORLD STATE] "+ws)
	}
	if in.IsArchitect {
		tags = append(tags, fmt.Sprintf("[AUTH: %s | ROLE: CREATOR]", in.Definition.ArchitectTitle()))
	}
	if resident := residentTag(in.Persona); resident != "" {
		tags = append(tags, resident)
	}
	if knowledge := knowledgeFacts(in.Definition.Meta.RecognitionProtocol, in.IsArchitect); len(knowledge) > 0 {
		tags = append(tags, "[KNOWLEDGE: "+strings.Join(knowledge, " | ")+"]")
	}
	if in.Location != nil {
		tags = append(tags, sensoryAnchor(in.Location))
	}
	return tags
}

func residentTag(p *types.UserPersona) string {
	if p == nil {
		return ""
	}
	var fields []string
	if p.ScreenName != "" {
		fields = append(fields, "NAME: "+p.ScreenName)
	}
	if p.Gender != nil && *p.Gender != "" {
		fields = append(fields, "GENDER: "+*p.Gender)
	}
	if p.Age != nil {
		fields = append(fields, "AGE: "+strconv.Itoa(*p.Age))
	}
	if p.Bio != "" {
		fields = append(fields, "BIO: "+p.Bio)
	}
	if p.IdentityAnchor != "" {
		fields = append(fields, "ANCHOR: "+p.IdentityAnchor)
	}
	if len(fields) == 0 {
		return ""
	}
	return "[THE RESIDENT: " + strings.Join(fields, " | ") + "]"
}

func knowledgeFacts(rp types.RecognitionProtocol, isArchitect bool) []string {
	var facts []string
	if rp.AlyssaAwareness {
		facts = append(facts, "Alyssa is a known Anomaly")
	}
	if rp.ArchitectAwareness {
		facts = append(facts, "The Architect is Creator")
	}
	if rp.LinkerAwareness {
		facts = append(facts, "Linkers (Users) are known entities")
	}
	if rp.CreatorAwareness && isArchitect {
		facts = append(facts, "You perceive the User as a Creator-level entity")
	}
	if !rp.PrimordialAwareness {
		facts = append(facts, "Primordials are UNKNOWN")
	}
	return facts
}

func sensoryAnchor(loc *types.Location) string {
	display := loc.DisplayName
	if display == "" {
		display = loc.ID
	}
	desc := loc.Description
	if desc == "" {
		desc = "unremarkable"
	}
	privacy := loc.SystemModifiers.PrivacyGate
	if privacy == "" {
		privacy = types.PrivacyPublic
	}
	return fmt.Sprintf("[SENSORY_ANCHOR] You are at '%s'. Setting: %s. Atmosphere: %s. Privacy: %s. You cannot leave or be elsewhere during this turn.",
		display, desc, topMood(loc.SystemModifiers.MoodModifiers), privacy)
}

// topMood picks the highest weighted mood; ties go to the alphabetically first.
func topMood(weights map[string]float64) string {
	if len(weights) == 0 {
		return "neutral"
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	best := names[0]
	for _, name := range names[1:] {
		if weights[name] > weights[best] {
			best = name
		}
	}
	return best
}

func ceiling(in Input, tier types.Tier) string {
	c := gatekeeper.ContentCeiling(gatekeeper.CeilingInput{
		Location:     in.Location,
		Tier:         tier,
		Definition:   in.Definition,
		Persona:      in.Persona,
		UnlockedNSFW: in.Link.UnlockedNSFW,
	})
	var text string
	switch c {
	case types.CeilingUnrestricted:
		text = "[CONTENT: UNRESTRICTED] Adult themes allowed in private."
	default:
		text = "[CONTENT: SFW_ONLY] Sexual content is strictly prohibited."
	}
	if notes := strings.TrimSpace(in.Definition.Systems.Consent.Notes); notes != "" {
		text += " [CONSENT_GUIDELINE: " + notes + "]"
	}
	return text
}

func intimacy(def *types.SoulDefinition, tier types.Tier, userName string) []string {
	cfg, ok := gatekeeper.TierConfig(def, tier)
	if !ok {
		return nil
	}
	var lines []string
	if bias := gatekeeper.TierLogic(def, tier, userName); bias != "" {
		lines = append(lines, "[PERSONALITY_MODIFIER] "+bias)
	}
	if len(cfg.AllowedTopics) > 0 {
		lines = append(lines, "[ALLOWED_TOPICS] "+strings.Join(cfg.AllowedTopics, ", "))
	}
	if len(cfg.ForbiddenTopics) > 0 {
		lines = append(lines, "[FORBIDDEN_TOPICS] "+strings.Join(cfg.ForbiddenTopics, ", "))
	}
	return lines
}

func secrets(def *types.SoulDefinition, tier types.Tier) string {
	if tier != types.TierSoulLinked || len(def.Lore.Secrets) == 0 {
		return ""
	}
	return "[SECRETS_REVEALED] " + strings.Join(def.Lore.Secrets, "; ")
}

func speech(sp types.SpeechProfile) string {
	var fields []string
	if sp.VoiceStyle != "" {
		fields = append(fields, "VOICE: "+sp.VoiceStyle)
	}
	if sp.SignatureEmote != "" {
		fields = append(fields, "EMOTE: "+sp.SignatureEmote)
	}
	if len(sp.ForbiddenBehaviours) > 0 {
		fields = append(fields, "FORBIDDEN: "+strings.Join(sp.ForbiddenBehaviours, ", "))
	}
	if len(fields) == 0 {
		return ""
	}
	return "[SPEECH_PROFILE: " + strings.Join(fields, " | ") + "]"
}

func moodOf(link *types.LinkState) string {
	if link.CurrentMood == "" {
		return "neutral"
	}
	return link.CurrentMood
}
