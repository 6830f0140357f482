package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/soullink/internal/types"
)

// ErrStale is returned when an optimistic update lost the race.
var ErrStale = errors.New("stale link state")

// GetLink fetches the Link State for a pair.
func (s *Store) GetLink(ctx context.Context, userID, soulID string) (*types.LinkState, error) {
	return getLink(s.db.WithContext(ctx), userID, soulID)
}

func getLink(db *gorm.DB, userID, soulID string) (*types.LinkState, error) {
	var model linkStateModel
	if err := db.Where("user_id = ? AND soul_id = ?", userID, soulID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get link state: %w", err)
	}
	return linkFromModel(model)
}

// CreateLink inserts a new Link State and its empty Soul Memory. When the pair
// already exists the stored row is returned with created=false.
func (s *Store) CreateLink(ctx context.Context, link types.LinkState) (*types.LinkState, bool, error) {
	model, err := linkToModel(link)
	if err != nil {
		return nil, false, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		memory := soulMemoryModel{
			LinkStateID: model.ID,
			UserID:      model.UserID,
			SoulID:      model.SoulID,
			UpdatedAt:   model.CreatedAt,
		}
		return tx.Create(&memory).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetLink(ctx, link.UserID, link.SoulID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create link state: %w", err)
	}
	created, err := linkFromModel(model)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// ListLinksForUser returns every link the user holds.
func (s *Store) ListLinksForUser(ctx context.Context, userID string) ([]types.LinkState, error) {
	var models []linkStateModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("soul_id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list link states: %w", err)
	}
	links := make([]types.LinkState, 0, len(models))
	for _, m := range models {
		link, err := linkFromModel(m)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

// ListLocationOverrides returns soul_id -> location for the user's private moves.
func (s *Store) ListLocationOverrides(ctx context.Context, userID string) (map[string]string, error) {
	var models []linkStateModel
	err := s.db.WithContext(ctx).
		Select("soul_id", "current_location").
		Where("user_id = ? AND current_location IS NOT NULL", userID).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list location overrides: %w", err)
	}
	result := make(map[string]string, len(models))
	for _, m := range models {
		if m.CurrentLocation != nil && *m.CurrentLocation != "" {
			result[m.SoulID] = *m.CurrentLocation
		}
	}
	return result, nil
}

// SetLinkLocation records a user-scoped move. Global live state is untouched.
func (s *Store) SetLinkLocation(ctx context.Context, userID, soulID, locationID string) error {
	res := s.db.WithContext(ctx).
		Model(&linkStateModel{}).
		Where("user_id = ? AND soul_id = ?", userID, soulID).
		Update("current_location", locationID)
	if res.Error != nil {
		return fmt.Errorf("failed to set link location: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUnlockedNSFW stores the user's adult-content preference for one link.
func (s *Store) SetUnlockedNSFW(ctx context.Context, userID, soulID string, enabled bool) (*types.LinkState, error) {
	res := s.db.WithContext(ctx).
		Model(&linkStateModel{}).
		Where("user_id = ? AND soul_id = ?", userID, soulID).
		Update("unlocked_nsfw", enabled)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to set nsfw flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetLink(ctx, userID, soulID)
}

// TurnUpdate describes the Link State mutation of one chat turn.
type TurnUpdate struct {
	LinkID uint
	// ExpectedLastInteraction is the compare-and-set guard.
	ExpectedLastInteraction time.Time
	IntimacyDelta           int
	StabilityDecay          float64
	Mood                    string
	// Flags are merged into the stored flags; nil leaves them untouched.
	Flags map[string]any
	Now   time.Time
}

// TurnResult is the committed state after a turn.
type TurnResult struct {
	Link     types.LinkState
	PrevTier types.Tier
}

// CommitTurn applies the Link State deltas and inserts the turn's messages in a
// single transaction. It returns ErrStale when another turn committed first.
func (s *Store) CommitTurn(ctx context.Context, update TurnUpdate, messages []types.Message) (*TurnResult, error) {
	var result TurnResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before linkStateModel
		if err := tx.Where("id = ?", update.LinkID).First(&before).Error; err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load link state: %w", err)
		}

		fields := map[string]any{
			"total_messages_sent": gorm.Expr("total_messages_sent + 1"),
			"intimacy_score":      gorm.Expr("intimacy_score + ?", update.IntimacyDelta),
			"last_interaction":    update.Now,
		}
		if update.StabilityDecay > 0 {
			fields["signal_stability"] = gorm.Expr(
				"CASE WHEN signal_stability - ? < 0 THEN 0 ELSE signal_stability - ? END",
				update.StabilityDecay, update.StabilityDecay)
			fields["last_stability_decay"] = update.Now
		}
		if update.Mood != "" {
			fields["current_mood"] = update.Mood
		}
		if len(update.Flags) > 0 {
			merged := map[string]any{}
			if err := unmarshalJSON(before.Flags, &merged); err != nil {
				return fmt.Errorf("corrupted link flags: %w", err)
			}
			for k, v := range update.Flags {
				merged[k] = v
			}
			raw, err := marshalJSON(merged)
			if err != nil {
				return fmt.Errorf("failed to encode link flags: %w", err)
			}
			fields["flags"] = []byte(raw)
		}

		res := tx.Model(&linkStateModel{}).
			Where("id = ?", update.LinkID).
			Where("last_interaction = ?", update.ExpectedLastInteraction).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("failed to update link state: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStale
		}

		after, err := retier(tx, update.LinkID, false)
		if err != nil {
			return err
		}

		for i := range messages {
			model, err := messageToModel(messages[i])
			if err != nil {
				return err
			}
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
			messages[i].ID = model.MessageID
		}

		prev, err := types.ParseTier(before.IntimacyTier)
		if err != nil {
			return err
		}
		result = TurnResult{Link: *after, PrevTier: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// retier recomputes the tier from the stored score. Without allowDown the tier
// never moves below its current value.
func retier(tx *gorm.DB, linkID uint, allowDown bool) (*types.LinkState, error) {
	var model linkStateModel
	if err := tx.Where("id = ?", linkID).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to reload link state: %w", err)
	}
	current, err := types.ParseTier(model.IntimacyTier)
	if err != nil {
		return nil, err
	}
	next := types.TierFor(model.IntimacyScore)
	if !allowDown && next.Rank() < current.Rank() {
		next = current
	}
	if next != current {
		if err := tx.Model(&linkStateModel{}).Where("id = ?", linkID).Update("intimacy_tier", string(next)).Error; err != nil {
			return nil, fmt.Errorf("failed to update intimacy tier: %w", err)
		}
		model.IntimacyTier = string(next)
	}
	return linkFromModel(model)
}

// CreditStability adds amount (clamped at 100). A non-nil audit row is
// inserted in the same transaction and counts as a watched ad; a replayed
// network event returns ErrDuplicate.
func (s *Store) CreditStability(ctx context.Context, linkID uint, amount float64, audit *types.AdImpression) (*types.LinkState, error) {
	var link *types.LinkState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if audit != nil {
			if err := insertImpression(tx, audit); err != nil {
				return err
			}
			if err := countAd(tx, audit.UserID); err != nil {
				return err
			}
		}
		var err error
		link, err = creditStability(tx, linkID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func creditStability(tx *gorm.DB, linkID uint, amount float64) (*types.LinkState, error) {
	res := tx.Model(&linkStateModel{}).
		Where("id = ?", linkID).
		Update("signal_stability", gorm.Expr(
			"CASE WHEN signal_stability + ? > 100 THEN 100 ELSE signal_stability + ? END", amount, amount))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to credit stability: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var model linkStateModel
	if err := tx.Where("id = ?", linkID).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to reload link state: %w", err)
	}
	return linkFromModel(model)
}

// PenalizeLink lowers the score by amount (floored at 0) and lets the tier drop.
func (s *Store) PenalizeLink(ctx context.Context, linkID uint, amount int) (*TurnResult, error) {
	var result TurnResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before linkStateModel
		if err := tx.Where("id = ?", linkID).First(&before).Error; err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load link state: %w", err)
		}
		if err := tx.Model(&linkStateModel{}).Where("id = ?", linkID).Update("intimacy_score", gorm.Expr(
			"CASE WHEN intimacy_score - ? < 0 THEN 0 ELSE intimacy_score - ? END", amount, amount)).Error; err != nil {
			return fmt.Errorf("failed to penalize link: %w", err)
		}
		after, err := retier(tx, linkID, true)
		if err != nil {
			return err
		}
		prev, err := types.ParseTier(before.IntimacyTier)
		if err != nil {
			return err
		}
		result = TurnResult{Link: *after, PrevTier: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteOrphanLinks removes links whose user or soul no longer exists.
func (s *Store) DeleteOrphanLinks(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id NOT IN (?) OR soul_id NOT IN (?)",
			s.db.Model(&userModel{}).Select("user_id"),
			s.db.Model(&soulModel{}).Select("soul_id")).
		Delete(&linkStateModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete orphan links: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func linkFromModel(model linkStateModel) (*types.LinkState, error) {
	tier, err := types.ParseTier(model.IntimacyTier)
	if err != nil {
		return nil, fmt.Errorf("link state %d: %w", model.ID, err)
	}
	link := &types.LinkState{
		ID:                 model.ID,
		UserID:             model.UserID,
		SoulID:             model.SoulID,
		CurrentMood:        model.CurrentMood,
		CurrentLocation:    model.CurrentLocation,
		EnergyPool:         model.EnergyPool,
		IntimacyScore:      model.IntimacyScore,
		IntimacyTier:       tier,
		MaskIntegrity:      model.MaskIntegrity,
		SignalStability:    model.SignalStability,
		LastStabilityDecay: model.LastStabilityDecay,
		UnlockedNSFW:       model.UnlockedNSFW,
		IsArchitect:        model.IsArchitect,
		TotalMessagesSent:  model.TotalMessagesSent,
		CreatedAt:          model.CreatedAt,
		LastInteraction:    model.LastInteraction,
	}
	if err := unmarshalJSON(model.Flags, &link.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode link flags: %w", err)
	}
	return link, nil
}

func linkToModel(link types.LinkState) (linkStateModel, error) {
	flags, err := marshalJSON(link.Flags)
	if err != nil {
		return linkStateModel{}, fmt.Errorf("failed to encode link flags: %w", err)
	}
	tier := link.IntimacyTier
	if tier == "" {
		tier = types.TierStranger
	}
	return linkStateModel{
		ID:                 link.ID,
		UserID:             link.UserID,
		SoulID:             link.SoulID,
		CurrentMood:        link.CurrentMood,
		CurrentLocation:    link.CurrentLocation,
		EnergyPool:         link.EnergyPool,
		IntimacyScore:      link.IntimacyScore,
		IntimacyTier:       string(tier),
		MaskIntegrity:      link.MaskIntegrity,
		SignalStability:    link.SignalStability,
		LastStabilityDecay: link.LastStabilityDecay,
		UnlockedNSFW:       link.UnlockedNSFW,
		IsArchitect:        link.IsArchitect,
		Flags:              flags,
		TotalMessagesSent:  link.TotalMessagesSent,
		CreatedAt:          link.CreatedAt,
		LastInteraction:    link.LastInteraction,
	}, nil
}
