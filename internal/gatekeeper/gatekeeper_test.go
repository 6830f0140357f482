package gatekeeper

import (
	"errors"
	"testing"

	"github.com/easeaico/soullink/internal/types"
)

func intPtr(v int) *int { return &v }

func TestTierForBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  types.Tier
	}{
		{0, types.TierStranger},
		{20, types.TierStranger},
		{21, types.TierAcquaintance},
		{40, types.TierAcquaintance},
		{41, types.TierTrusted},
		{70, types.TierTrusted},
		{71, types.TierFriendship},
		{85, types.TierFriendship},
		{86, types.TierSoulLinked},
		{5000, types.TierSoulLinked},
	}
	for _, tc := range cases {
		if got := TierFor(tc.score); got != tc.want {
			t.Fatalf("TierFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func adultDefinition() *types.SoulDefinition {
	return &types.SoulDefinition{Systems: types.SystemsConfig{Capabilities: types.Capabilities{SexualContent: true}}}
}

func privateLocation() *types.Location {
	return &types.Location{ID: "linkside_apartment", SystemModifiers: types.SystemModifiers{PrivacyGate: types.PrivacyPrivate}}
}

func TestContentCeiling(t *testing.T) {
	adult := &types.UserPersona{Age: intPtr(30)}
	minor := &types.UserPersona{Age: intPtr(17)}
	public := &types.Location{ID: "soul_plaza", SystemModifiers: types.SystemModifiers{PrivacyGate: types.PrivacyPublic}}

	cases := []struct {
		name string
		in   CeilingInput
		want types.ContentCeiling
	}{
		{"private soul linked unlocked", CeilingInput{privateLocation(), types.TierSoulLinked, adultDefinition(), adult, true}, types.CeilingUnrestricted},
		{"private trusted unlocked", CeilingInput{privateLocation(), types.TierTrusted, adultDefinition(), adult, true}, types.CeilingUnrestricted},
		{"friendship tier", CeilingInput{privateLocation(), types.TierFriendship, adultDefinition(), adult, true}, types.CeilingSFW},
		{"public location", CeilingInput{public, types.TierSoulLinked, adultDefinition(), adult, true}, types.CeilingSFW},
		{"not unlocked", CeilingInput{privateLocation(), types.TierSoulLinked, adultDefinition(), adult, false}, types.CeilingSFW},
		{"capability off", CeilingInput{privateLocation(), types.TierSoulLinked, &types.SoulDefinition{}, adult, true}, types.CeilingSFW},
		{"minor", CeilingInput{privateLocation(), types.TierSoulLinked, adultDefinition(), minor, true}, types.CeilingSFW},
		{"unlocked stranger in public", CeilingInput{public, types.TierStranger, adultDefinition(), adult, true}, types.CeilingSFW},
		{"no location", CeilingInput{nil, types.TierSoulLinked, adultDefinition(), adult, true}, types.CeilingSFW},
		{"no age declared", CeilingInput{privateLocation(), types.TierSoulLinked, adultDefinition(), &types.UserPersona{}, true}, types.CeilingUnrestricted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ContentCeiling(tc.in); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTierLogicSubstitutesUserName(t *testing.T) {
	def := &types.SoulDefinition{Interaction: types.InteractionSystem{IntimacyTiers: map[types.Tier]types.TierConfig{
		types.TierStranger: {LLMBias: "Be polite to {user_name}."},
		types.TierTrusted:  {LLMBias: "Tease {user_name} gently."},
	}}}
	if got := TierLogic(def, types.TierTrusted, "Nova"); got != "Tease Nova gently." {
		t.Fatalf("unexpected bias %q", got)
	}
	if got := TierLogic(def, types.TierFriendship, "Nova"); got != "Be polite to Nova." {
		t.Fatalf("expected STRANGER fallback, got %q", got)
	}
}

func TestCanMove(t *testing.T) {
	loc := &types.Location{ID: "neon_nights", MinIntimacy: 30}
	if ok, reason := CanMove(nil, loc); ok || reason != "No link established." {
		t.Fatalf("expected no-link denial, got %v %q", ok, reason)
	}
	if ok, reason := CanMove(&types.LinkState{IntimacyScore: 10}, loc); ok || reason != "Requires 30 intimacy." {
		t.Fatalf("expected intimacy denial, got %v %q", ok, reason)
	}
	if ok, _ := CanMove(&types.LinkState{IntimacyScore: 10, IsArchitect: true}, loc); !ok {
		t.Fatalf("architect must bypass the location gate")
	}
	if ok, _ := CanMove(&types.LinkState{IntimacyScore: 30}, loc); !ok {
		t.Fatalf("score equal to min_intimacy must be allowed")
	}
}

func TestIsArchitectUsesAllowListOnly(t *testing.T) {
	def := &types.SoulDefinition{Meta: types.Meta{DevConfig: types.DevConfig{ArchitectIDs: []string{"uuid-a"}}}}
	if !IsArchitect(def, "uuid-a", "") {
		t.Fatalf("allow-listed user must be architect")
	}
	if IsArchitect(def, "The Architect", "") {
		t.Fatalf("names must not grant architect status")
	}
	if !IsArchitect(def, "uuid-g", "uuid-g") {
		t.Fatalf("global architect must be recognized")
	}
}

func TestDenialUnwrapsToErrDenied(t *testing.T) {
	err := Deny("Requires %d intimacy.", 40)
	if !errors.Is(err, ErrDenied) || err.Error() != "Requires 40 intimacy." {
		t.Fatalf("unexpected denial %v", err)
	}
}

func TestCanChat(t *testing.T) {
	if CanChat(&types.LinkState{SignalStability: 0}) {
		t.Fatalf("depleted link must not chat")
	}
	if !CanChat(&types.LinkState{SignalStability: 0, IsArchitect: true}) {
		t.Fatalf("architect never depletes")
	}
}
