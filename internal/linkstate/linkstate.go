// Package linkstate maintains the per (user, soul) relationship record.
package linkstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

var (
	// ErrNoLink is returned when the pair has no Link State.
	ErrNoLink = errors.New("no link established")
	// ErrSoulNotFound is returned when the soul does not exist.
	ErrSoulNotFound = errors.New("soul not found")
	// ErrConflict is returned when a concurrent turn won twice in a row.
	ErrConflict = errors.New("concurrent update conflict")
)

// Credit reasons. Rewarded ads and overdrive grants leave an audit row.
const (
	ReasonRewardedAd     = "rewarded_ad"
	ReasonOverdriveGrant = "overdrive_grant"
	ReasonOperatorGrant  = "operator_grant"
)

// CreditOption adjusts the audit row of a credit.
type CreditOption func(*types.AdImpression)

// WithImpression records imp, typically a verified ad network callback, as
// the audit row. Its RewardAmount is overwritten with the credited amount.
func WithImpression(imp types.AdImpression) CreditOption {
	return func(a *types.AdImpression) { *a = imp }
}

func audited(reason string) bool {
	return reason == ReasonRewardedAd || reason == ReasonOverdriveGrant
}

// Store is the persistence the service needs.
type Store interface {
	GetDefinition(ctx context.Context, soulID string) (*types.SoulDefinition, error)
	GetLink(ctx context.Context, userID, soulID string) (*types.LinkState, error)
	CreateLink(ctx context.Context, link types.LinkState) (*types.LinkState, bool, error)
	CommitTurn(ctx context.Context, update storage.TurnUpdate, messages []types.Message) (*storage.TurnResult, error)
	CreditStability(ctx context.Context, linkID uint, amount float64, audit *types.AdImpression) (*types.LinkState, error)
	PenalizeLink(ctx context.Context, linkID uint, amount int) (*storage.TurnResult, error)
	SetUnlockedNSFW(ctx context.Context, userID, soulID string, enabled bool) (*types.LinkState, error)
}

// Service is the Link State Mirror.
type Service struct {
	store           Store
	globalArchitect string
	now             func() time.Time
}

// NewService creates a Service. globalArchitect is a user id treated as
// architect of every soul; empty disables it.
func NewService(store Store, globalArchitect string) *Service {
	return &Service{store: store, globalArchitect: globalArchitect, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the pair's Link State or ErrNoLink.
func (s *Service) Get(ctx context.Context, userID, soulID string) (*types.LinkState, error) {
	link, err := s.store.GetLink(ctx, userID, soulID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoLink
		}
		return nil, err
	}
	return link, nil
}

// Ensure fetches or creates the pair's Link State. created reports whether
// this call inserted the row.
func (s *Service) Ensure(ctx context.Context, userID, soulID string) (link *types.LinkState, created bool, err error) {
	link, err = s.store.GetLink(ctx, userID, soulID)
	if err == nil {
		return link, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	def, err := s.store.GetDefinition(ctx, soulID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrSoulNotFound
		}
		return nil, false, err
	}

	isArchitect := gatekeeper.IsArchitect(def, userID, s.globalArchitect)
	now := s.now().UTC().Truncate(time.Microsecond)
	link, created, err = s.store.CreateLink(ctx, types.LinkState{
		UserID:             userID,
		SoulID:             soulID,
		CurrentMood:        "neutral",
		EnergyPool:         100,
		IntimacyScore:      0,
		IntimacyTier:       types.TierStranger,
		MaskIntegrity:      1.0,
		SignalStability:    100.0,
		LastStabilityDecay: now,
		UnlockedNSFW:       isArchitect,
		IsArchitect:        isArchitect,
		CreatedAt:          now,
		LastInteraction:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create link: %w", err)
	}
	if created {
		slog.Info("link established", "user_id", userID, "soul_id", soulID, "is_architect", isArchitect)
	}
	return link, created, nil
}

// TurnBuilder derives the mutation and messages of a turn from the current
// Link State. It may be called twice when the first commit loses a race.
type TurnBuilder func(link *types.LinkState) (storage.TurnUpdate, []types.Message, error)

// ApplyTurn commits a turn with compare-and-set on last_interaction. The loser
// of a race re-reads the link, rebuilds once and retries; a second loss
// returns ErrConflict.
func (s *Service) ApplyTurn(ctx context.Context, link *types.LinkState, build TurnBuilder) (*storage.TurnResult, []types.Message, error) {
	current := link
	for attempt := 0; attempt < 2; attempt++ {
		update, messages, err := build(current)
		if err != nil {
			return nil, nil, err
		}
		update.LinkID = current.ID
		update.ExpectedLastInteraction = current.LastInteraction
		if update.Now.IsZero() {
			update.Now = s.now().UTC()
		}
		update.Now = update.Now.Truncate(time.Microsecond)

		result, err := s.store.CommitTurn(ctx, update, messages)
		if err == nil {
			return result, messages, nil
		}
		if !errors.Is(err, storage.ErrStale) {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, ErrNoLink
			}
			return nil, nil, err
		}
		slog.Warn("link state changed during turn, retrying", "user_id", current.UserID, "soul_id", current.SoulID, "attempt", attempt+1)
		current, err = s.Get(ctx, current.UserID, current.SoulID)
		if err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, ErrConflict
}

// CreditStability adds amount to the link's stability, clamped at 100. An
// audit row is written for ad-driven reasons; without WithImpression one is
// synthesized. A replayed network event returns storage.ErrDuplicate.
func (s *Service) CreditStability(ctx context.Context, link *types.LinkState, amount float64, reason string, opts ...CreditOption) (*types.LinkState, error) {
	var audit *types.AdImpression
	if audited(reason) {
		audit = &types.AdImpression{
			Network:        "internal",
			NetworkEventID: uuid.NewString(),
			Type:           reason,
			Placement:      reason,
			RewardType:     reason,
		}
		for _, opt := range opts {
			opt(audit)
		}
		audit.UserID = link.UserID
		audit.SoulID = link.SoulID
		audit.RewardAmount = amount
		if audit.CreatedAt.IsZero() {
			audit.CreatedAt = s.now().UTC()
		}
	}
	updated, err := s.store.CreditStability(ctx, link.ID, amount, audit)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoLink
		}
		return nil, err
	}
	slog.Info("stability credited", "user_id", link.UserID, "soul_id", link.SoulID, "amount", amount, "reason", reason, "stability", updated.SignalStability)
	return updated, nil
}

// Penalize lowers the score and lets the tier fall.
func (s *Service) Penalize(ctx context.Context, userID, soulID string, amount int) (*storage.TurnResult, error) {
	link, err := s.Get(ctx, userID, soulID)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		amount = -amount
	}
	result, err := s.store.PenalizeLink(ctx, link.ID, amount)
	if err != nil {
		return nil, err
	}
	slog.Info("link penalized", "user_id", userID, "soul_id", soulID, "amount", amount,
		"from", result.PrevTier, "to", result.Link.IntimacyTier)
	return result, nil
}

// SetNSFW stores the adult-content preference. The age gate and location
// rules still apply when the prompt is assembled.
func (s *Service) SetNSFW(ctx context.Context, userID, soulID string, enabled bool) (*types.LinkState, error) {
	link, err := s.store.SetUnlockedNSFW(ctx, userID, soulID, enabled)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoLink
		}
		return nil, err
	}
	return link, nil
}

// TierChanged reports whether a committed turn moved the tier.
func TierChanged(result *storage.TurnResult) bool {
	return result != nil && result.PrevTier != result.Link.IntimacyTier
}
