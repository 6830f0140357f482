package linkstate_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewStore(ctx, "sqlite:"+filepath.Join(t.TempDir(), "links.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	def := types.SoulDefinition{SoulID: "kira", Meta: types.Meta{DevConfig: types.DevConfig{ArchitectIDs: []string{"arch-1"}}}}
	if err := store.UpsertSoul(ctx, types.Soul{ID: "kira", Name: "Kira"}, def, ""); err != nil {
		t.Fatalf("seed soul: %v", err)
	}
	return store
}

// clock hands out strictly increasing timestamps.
type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newService(store linkstate.Store, global string) *linkstate.Service {
	c := &clock{t: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}
	return linkstate.NewService(store, global).WithClock(c.now)
}

func plainTurn(delta int) linkstate.TurnBuilder {
	return func(link *types.LinkState) (storage.TurnUpdate, []types.Message, error) {
		return storage.TurnUpdate{IntimacyDelta: delta, StabilityDecay: 1}, []types.Message{
			{UserID: link.UserID, SoulID: link.SoulID, Role: types.RoleUser, Content: "hi"},
			{UserID: link.UserID, SoulID: link.SoulID, Role: types.RoleAssistant, Content: "*nods*"},
		}, nil
	}
}

func TestEnsureSeedsDefaults(t *testing.T) {
	store := openStore(t)
	svc := newService(store, "")
	ctx := context.Background()

	link, created, err := svc.Ensure(ctx, "u1", "kira")
	if err != nil || !created {
		t.Fatalf("ensure: %v created=%v", err, created)
	}
	if link.IntimacyScore != 0 || link.IntimacyTier != types.TierStranger || link.SignalStability != 100 ||
		link.MaskIntegrity != 1 || link.IsArchitect || link.UnlockedNSFW {
		t.Fatalf("unexpected defaults: %+v", link)
	}

	again, created, err := svc.Ensure(ctx, "u1", "kira")
	if err != nil || created || again.ID != link.ID {
		t.Fatalf("second ensure must return the same row: %+v created=%v err=%v", again, created, err)
	}

	if _, _, err := svc.Ensure(ctx, "u1", "ghost"); !errors.Is(err, linkstate.ErrSoulNotFound) {
		t.Fatalf("expected ErrSoulNotFound, got %v", err)
	}
}

func TestEnsureArchitect(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	link, _, err := newService(store, "").Ensure(ctx, "arch-1", "kira")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !link.IsArchitect || !link.UnlockedNSFW {
		t.Fatalf("allow-listed user must be architect: %+v", link)
	}

	global, _, err := newService(store, "root-user").Ensure(ctx, "root-user", "kira")
	if err != nil || !global.IsArchitect {
		t.Fatalf("global architect must be recognized: %+v %v", global, err)
	}

	spoof, _, err := newService(store, "").Ensure(ctx, "The Architect", "kira")
	if err != nil || spoof.IsArchitect {
		t.Fatalf("names are not identities: %+v %v", spoof, err)
	}
}

func TestApplyTurnTierChangeOnce(t *testing.T) {
	store := openStore(t)
	svc := newService(store, "")
	ctx := context.Background()

	link, _, err := svc.Ensure(ctx, "u1", "kira")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	result, _, err := svc.ApplyTurn(ctx, link, plainTurn(20))
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if linkstate.TierChanged(result) || result.Link.IntimacyScore != 20 {
		t.Fatalf("score 20 is still STRANGER: %+v", result)
	}

	result, msgs, err := svc.ApplyTurn(ctx, &result.Link, plainTurn(1))
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !linkstate.TierChanged(result) || result.Link.IntimacyTier != types.TierAcquaintance {
		t.Fatalf("expected STRANGER -> ACQUAINTANCE, got %+v", result)
	}
	if msgs[0].ID == "" || msgs[1].ID == "" {
		t.Fatalf("committed messages must carry ids: %+v", msgs)
	}

	result, _, err = svc.ApplyTurn(ctx, &result.Link, plainTurn(1))
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if linkstate.TierChanged(result) {
		t.Fatalf("tier change must be reported once")
	}
	if result.Link.TotalMessagesSent != 3 || result.Link.SignalStability != 97 {
		t.Fatalf("unexpected counters: %+v", result.Link)
	}
}

func TestApplyTurnRetriesStaleOnce(t *testing.T) {
	store := openStore(t)
	svc := newService(store, "")
	ctx := context.Background()

	stale, _, err := svc.Ensure(ctx, "u1", "kira")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, _, err := svc.ApplyTurn(ctx, stale, plainTurn(1)); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	builds := 0
	build := func(link *types.LinkState) (storage.TurnUpdate, []types.Message, error) {
		builds++
		return plainTurn(1)(link)
	}
	result, _, err := svc.ApplyTurn(ctx, stale, build)
	if err != nil {
		t.Fatalf("retry must succeed: %v", err)
	}
	if builds != 2 || result.Link.IntimacyScore != 2 {
		t.Fatalf("expected rebuild on fresh state, builds=%d link=%+v", builds, result.Link)
	}

	history, err := store.ListHistory(ctx, "u1", "kira", 10)
	if err != nil || len(history) != 4 {
		t.Fatalf("expected exactly two committed turns, got %d %v", len(history), err)
	}
}

type alwaysStale struct {
	*storage.Store
}

func (alwaysStale) CommitTurn(ctx context.Context, update storage.TurnUpdate, messages []types.Message) (*storage.TurnResult, error) {
	return nil, storage.ErrStale
}

func TestApplyTurnConflictAfterSecondLoss(t *testing.T) {
	store := openStore(t)
	svc := newService(alwaysStale{store}, "")
	ctx := context.Background()

	link, _, err := svc.Ensure(ctx, "u1", "kira")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, _, err := svc.ApplyTurn(ctx, link, plainTurn(1)); !errors.Is(err, linkstate.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPenalizeAndCredit(t *testing.T) {
	store := openStore(t)
	svc := newService(store, "")
	ctx := context.Background()

	link, _, _ := svc.Ensure(ctx, "u1", "kira")
	res, _, err := svc.ApplyTurn(ctx, link, plainTurn(45))
	if err != nil || res.Link.IntimacyTier != types.TierTrusted {
		t.Fatalf("expected TRUSTED, got %+v %v", res, err)
	}

	pen, err := svc.Penalize(ctx, "u1", "kira", 30)
	if err != nil {
		t.Fatalf("penalize: %v", err)
	}
	if pen.Link.IntimacyScore != 15 || pen.Link.IntimacyTier != types.TierStranger || !linkstate.TierChanged(pen) {
		t.Fatalf("penalty must lower the tier: %+v", pen)
	}
	if _, err := svc.Penalize(ctx, "u9", "kira", 1); !errors.Is(err, linkstate.ErrNoLink) {
		t.Fatalf("expected ErrNoLink, got %v", err)
	}

	for i := 0; i < 2; i++ {
		credited, err := svc.CreditStability(ctx, &pen.Link, 50, linkstate.ReasonRewardedAd)
		if err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
		if credited.SignalStability != 100 {
			t.Fatalf("credit must clamp at 100, got %v", credited.SignalStability)
		}
	}
	imps, err := store.ListImpressions(ctx, "u1", 10)
	if err != nil || len(imps) != 2 {
		t.Fatalf("expected two audit rows, got %d %v", len(imps), err)
	}
	if _, err := svc.CreditStability(ctx, &pen.Link, 5, "gift"); err != nil {
		t.Fatalf("credit without audit: %v", err)
	}
	if imps, _ := store.ListImpressions(ctx, "u1", 10); len(imps) != 2 {
		t.Fatalf("non-ad credits must not be audited")
	}

	callback := types.AdImpression{Network: "applovin", NetworkEventID: "evt-7", SSVVerified: true}
	if _, err := svc.CreditStability(ctx, &pen.Link, 5, linkstate.ReasonRewardedAd, linkstate.WithImpression(callback)); err != nil {
		t.Fatalf("credit with impression: %v", err)
	}
	if _, err := svc.CreditStability(ctx, &pen.Link, 5, linkstate.ReasonRewardedAd, linkstate.WithImpression(callback)); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("replayed impression must be rejected, got %v", err)
	}
	imps, err = store.ListImpressions(ctx, "u1", 10)
	if err != nil || len(imps) != 3 {
		t.Fatalf("expected three audit rows, got %d %v", len(imps), err)
	}
	if imps[0].NetworkEventID != "evt-7" || imps[0].RewardAmount != 5 || imps[0].SoulID != "kira" {
		t.Fatalf("audit row must keep the callback and the credited amount: %+v", imps[0])
	}
}

func TestSetNSFW(t *testing.T) {
	store := openStore(t)
	svc := newService(store, "")
	ctx := context.Background()

	if _, err := svc.SetNSFW(ctx, "u1", "kira", true); !errors.Is(err, linkstate.ErrNoLink) {
		t.Fatalf("expected ErrNoLink, got %v", err)
	}
	if _, _, err := svc.Ensure(ctx, "u1", "kira"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	link, err := svc.SetNSFW(ctx, "u1", "kira", true)
	if err != nil || !link.UnlockedNSFW {
		t.Fatalf("expected nsfw unlocked: %+v %v", link, err)
	}
}
