package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "soullink_test.db")
	store, err := storage.NewStore(ctx, "sqlite:"+dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return store
}

func seedSoul(t *testing.T, store *storage.Store, soulID string) {
	t.Helper()
	def := types.SoulDefinition{
		SoulID: soulID,
		Routine: types.Routine{
			TemplateID:          "night_owl",
			LocationPreferences: map[string]string{"home_zone": "linkside_apartment"},
		},
		Lore: types.LoreAssociations{Secrets: []string{"she keeps a key"}},
	}
	if err := store.UpsertSoul(context.Background(), types.Soul{ID: soulID, Name: soulID, Version: "1"}, def, ""); err != nil {
		t.Fatalf("upsert soul: %v", err)
	}
}

func newLink(userID, soulID string, now time.Time) types.LinkState {
	return types.LinkState{
		UserID:             userID,
		SoulID:             soulID,
		CurrentMood:        "neutral",
		EnergyPool:         100,
		IntimacyTier:       types.TierStranger,
		MaskIntegrity:      1.0,
		SignalStability:    100,
		LastStabilityDecay: now,
		CreatedAt:          now,
		LastInteraction:    now,
	}
}

func TestUpsertSoulRoundTripsDefinition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedSoul(t, store, "kira")

	def, err := store.GetDefinition(ctx, "kira")
	if err != nil {
		t.Fatalf("get definition: %v", err)
	}
	if def.Routine.TemplateID != "night_owl" || def.Lore.Secrets[0] != "she keeps a key" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	state, err := store.GetSoulState(ctx, "kira")
	if err != nil {
		t.Fatalf("get soul state: %v", err)
	}
	if state.CurrentLocationID != "soul_plaza" {
		t.Fatalf("expected soul_plaza, got %s", state.CurrentLocationID)
	}

	routines, err := store.ListRoutines(ctx, []string{"kira", "missing"})
	if err != nil {
		t.Fatalf("list routines: %v", err)
	}
	if len(routines) != 1 || routines["kira"].LocationPreferences["home_zone"] != "linkside_apartment" {
		t.Fatalf("unexpected routines: %+v", routines)
	}

	if _, err := store.GetDefinition(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateLinkIsUniquePerPair(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, created, err := store.CreateLink(ctx, newLink("u1", "kira", now))
	if err != nil || !created {
		t.Fatalf("create link: created=%v err=%v", created, err)
	}
	second, created, err := store.CreateLink(ctx, newLink("u1", "kira", now))
	if err != nil {
		t.Fatalf("create duplicate link: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing link %d, got %d created=%v", first.ID, second.ID, created)
	}
	if _, err := store.GetSoulMemory(ctx, first.ID); err != nil {
		t.Fatalf("expected lazily created memory: %v", err)
	}
}

func TestCommitTurnAppliesDeltasAndRejectsStaleWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	seed := newLink("u1", "kira", start)
	seed.IntimacyScore = 20
	link, _, err := store.CreateLink(ctx, seed)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	msgs := []types.Message{
		{UserID: "u1", SoulID: "kira", Role: types.RoleUser, Content: "hi", CreatedAt: now},
		{UserID: "u1", SoulID: "kira", Role: types.RoleAssistant, Content: "*waves*", CreatedAt: now.Add(time.Microsecond)},
	}
	res, err := store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID:                  link.ID,
		ExpectedLastInteraction: link.LastInteraction,
		IntimacyDelta:           1,
		StabilityDecay:          1,
		Mood:                    "happy",
		Now:                     now,
	}, msgs)
	if err != nil {
		t.Fatalf("commit turn: %v", err)
	}
	if res.Link.IntimacyScore != 21 || res.Link.IntimacyTier != types.TierAcquaintance || res.PrevTier != types.TierStranger {
		t.Fatalf("unexpected tier transition: %+v prev=%s", res.Link, res.PrevTier)
	}
	if res.Link.SignalStability != 99 || res.Link.TotalMessagesSent != 1 || res.Link.CurrentMood != "happy" {
		t.Fatalf("unexpected link after turn: %+v", res.Link)
	}

	_, err = store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID:                  link.ID,
		ExpectedLastInteraction: link.LastInteraction,
		IntimacyDelta:           1,
		Now:                     now.Add(time.Second),
	}, []types.Message{{UserID: "u1", SoulID: "kira", Role: types.RoleUser, Content: "again", CreatedAt: now.Add(time.Second)}})
	if !errors.Is(err, storage.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	history, err := store.ListHistory(ctx, "u1", "kira", 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "*waves*" {
		t.Fatalf("stale turn must not write messages: %+v", history)
	}
}

func TestCommitTurnMergesFlags(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	link, _, err := store.CreateLink(ctx, newLink("u1", "kira", start))
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	res, err := store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID:                  link.ID,
		ExpectedLastInteraction: link.LastInteraction,
		IntimacyDelta:           1,
		Flags:                   map[string]any{"last_label": "Neutral", "streak": 1},
		Now:                     now,
	}, []types.Message{{UserID: "u1", SoulID: "kira", Role: types.RoleUser, Content: "hi", CreatedAt: now}})
	if err != nil {
		t.Fatalf("commit turn with flags: %v", err)
	}

	later := now.Add(time.Second)
	res, err = store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID:                  link.ID,
		ExpectedLastInteraction: res.Link.LastInteraction,
		Flags:                   map[string]any{"last_label": "Positive"},
		Now:                     later,
	}, []types.Message{{UserID: "u1", SoulID: "kira", Role: types.RoleUser, Content: "again", CreatedAt: later}})
	if err != nil {
		t.Fatalf("second commit turn: %v", err)
	}
	if res.Link.Flags["last_label"] != "Positive" {
		t.Fatalf("last_label = %v, want Positive", res.Link.Flags["last_label"])
	}
	if streak, ok := res.Link.Flags["streak"].(float64); !ok || streak != 1 {
		t.Fatalf("streak flag lost in merge: %+v", res.Link.Flags)
	}

	stored, err := store.GetLink(ctx, "u1", "kira")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if stored.TotalMessagesSent != 2 || stored.Flags["last_label"] != "Positive" {
		t.Fatalf("unexpected stored link: %+v", stored)
	}
}

func TestStabilityNeverLeavesRange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	seed := newLink("u1", "kira", now)
	seed.SignalStability = 0.5
	link, _, err := store.CreateLink(ctx, seed)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	res, err := store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID:                  link.ID,
		ExpectedLastInteraction: link.LastInteraction,
		StabilityDecay:          1,
		Now:                     now.Add(time.Second),
	}, nil)
	if err != nil {
		t.Fatalf("commit turn: %v", err)
	}
	if res.Link.SignalStability != 0 {
		t.Fatalf("expected stability clamped at 0, got %v", res.Link.SignalStability)
	}

	credited, err := store.CreditStability(ctx, link.ID, 250, nil)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credited.SignalStability != 100 {
		t.Fatalf("expected stability clamped at 100, got %v", credited.SignalStability)
	}
}

func TestPenalizeLinkLowersTier(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	seed := newLink("u1", "kira", now)
	seed.IntimacyScore = 45
	seed.IntimacyTier = types.TierTrusted
	link, _, err := store.CreateLink(ctx, seed)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	res, err := store.PenalizeLink(ctx, link.ID, 30)
	if err != nil {
		t.Fatalf("penalize: %v", err)
	}
	if res.Link.IntimacyScore != 15 || res.Link.IntimacyTier != types.TierStranger || res.PrevTier != types.TierTrusted {
		t.Fatalf("unexpected penalized link: %+v prev=%s", res.Link, res.PrevTier)
	}
}

func TestAuditedCreditRejectsReplay(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := store.CreateUserWithPersona(ctx, types.User{ID: "u1", Username: "Guest-1"}, types.UserPersona{ScreenName: "Guest-1"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	seed := newLink("u1", "kira", now)
	seed.SignalStability = 40
	link, _, err := store.CreateLink(ctx, seed)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	audit := types.AdImpression{
		UserID: "u1", SoulID: "kira", Network: "admob", NetworkEventID: "evt-1",
		Type: "rewarded", RewardType: "stability", RewardAmount: 25, SSVVerified: true,
	}
	first := audit
	credited, err := store.CreditStability(ctx, link.ID, 25, &first)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credited.SignalStability != 65 || first.ID == 0 {
		t.Fatalf("expected 65 with a stored audit row, got %v id=%d", credited.SignalStability, first.ID)
	}
	replay := audit
	if _, err := store.CreditStability(ctx, link.ID, 25, &replay); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	after, err := store.GetLink(ctx, "u1", "kira")
	if err != nil || after.SignalStability != 65 {
		t.Fatalf("replay must not credit: %+v %v", after, err)
	}

	until := now.Add(10 * time.Minute)
	overdrive := types.AdImpression{UserID: "u1", Network: "tapjoy", NetworkEventID: "bb-1", Type: "billboard", RewardType: "overdrive"}
	if err := store.GrantOverdrive(ctx, &overdrive, until); err != nil {
		t.Fatalf("grant overdrive: %v", err)
	}
	if err := store.GrantOverdrive(ctx, &overdrive, until); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for replayed overdrive, got %v", err)
	}

	user, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.TotalAdsWatched != 2 {
		t.Fatalf("replays must not count, got %d", user.TotalAdsWatched)
	}
	if !user.OverdriveActive(now.Add(time.Minute)) {
		t.Fatalf("overdrive must be active: %+v", user)
	}
}

func TestPersonasKeepExactlyOneActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUserWithPersona(ctx, types.User{ID: "u1"}, types.UserPersona{ScreenName: "First"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	second, err := store.CreatePersona(ctx, types.UserPersona{UserID: "u1", ScreenName: "Second"})
	if err != nil {
		t.Fatalf("create persona: %v", err)
	}
	if second.IsActive {
		t.Fatalf("second mask should not steal activation")
	}
	if _, err := store.ActivatePersona(ctx, "u1", second.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	personas, err := store.ListPersonas(ctx, "u1")
	if err != nil {
		t.Fatalf("list personas: %v", err)
	}
	active := 0
	for _, p := range personas {
		if p.IsActive {
			active++
			if p.ScreenName != "Second" {
				t.Fatalf("wrong active mask %s", p.ScreenName)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active mask, got %d", active)
	}
	if _, err := store.ActivatePersona(ctx, "someone-else", second.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign mask, got %v", err)
	}
}

func TestDeleteOrphanLinks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	seedSoul(t, store, "kira")
	if _, err := store.CreateUserWithPersona(ctx, types.User{ID: "u1"}, types.UserPersona{ScreenName: "A"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, _, err := store.CreateLink(ctx, newLink("u1", "kira", now)); err != nil {
		t.Fatalf("create link: %v", err)
	}
	if _, _, err := store.CreateLink(ctx, newLink("ghost", "kira", now)); err != nil {
		t.Fatalf("create orphan link: %v", err)
	}
	removed, err := store.DeleteOrphanLinks(ctx)
	if err != nil {
		t.Fatalf("delete orphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", removed)
	}
}

func TestUpdateProfileEditsActiveMask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.UpdateProfile(ctx, "nobody", storage.ProfilePatch{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.CreateUserWithPersona(ctx, types.User{ID: "u1"}, types.UserPersona{ScreenName: "Guest"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	name, age := "Sam", 17
	persona, err := store.UpdateProfile(ctx, "u1", storage.ProfilePatch{DisplayName: &name, Age: &age})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if persona.ScreenName != "Sam" || !persona.Minor() {
		t.Fatalf("unexpected persona: %+v", persona)
	}
	active, err := store.GetActivePersona(ctx, "u1")
	if err != nil || active.ScreenName != "Sam" || active.Age == nil || *active.Age != 17 {
		t.Fatalf("mask not persisted: %+v %v", active, err)
	}
	user, err := store.GetUser(ctx, "u1")
	if err != nil || user.DisplayName != "Sam" {
		t.Fatalf("display name not persisted: %+v %v", user, err)
	}
}
