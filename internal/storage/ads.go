package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/soullink/internal/types"
)

// GrantOverdrive records the impression and suppresses decay for its user
// until the given time, atomically. A replayed network event returns
// ErrDuplicate.
func (s *Store) GrantOverdrive(ctx context.Context, imp *types.AdImpression, until time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertImpression(tx, imp); err != nil {
			return err
		}
		if err := countAd(tx, imp.UserID); err != nil {
			return err
		}
		if err := tx.Model(&userModel{}).
			Where("user_id = ?", imp.UserID).
			Update("stability_overdrive_until", until.UTC()).Error; err != nil {
			return fmt.Errorf("failed to set overdrive: %w", err)
		}
		return nil
	})
}

func countAd(tx *gorm.DB, userID string) error {
	if err := tx.Model(&userModel{}).
		Where("user_id = ?", userID).
		Update("total_ads_watched", gorm.Expr("total_ads_watched + 1")).Error; err != nil {
		return fmt.Errorf("failed to count ad: %w", err)
	}
	return nil
}

// ListImpressions returns a user's ad audit trail, newest first.
func (s *Store) ListImpressions(ctx context.Context, userID string, limit int) ([]types.AdImpression, error) {
	var models []adImpressionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list impressions: %w", err)
	}
	results := make([]types.AdImpression, 0, len(models))
	for _, m := range models {
		results = append(results, impressionFromModel(m))
	}
	return results, nil
}

func insertImpression(tx *gorm.DB, imp *types.AdImpression) error {
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}
	model := adImpressionModel{
		UserID:         imp.UserID,
		SoulID:         imp.SoulID,
		Network:        imp.Network,
		NetworkEventID: imp.NetworkEventID,
		Type:           imp.Type,
		Placement:      imp.Placement,
		RewardType:     imp.RewardType,
		RewardAmount:   imp.RewardAmount,
		SSVVerified:    imp.SSVVerified,
		CreatedAt:      imp.CreatedAt,
	}
	if err := tx.Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert ad impression: %w", err)
	}
	imp.ID = model.ID
	return nil
}

func impressionFromModel(m adImpressionModel) types.AdImpression {
	return types.AdImpression{
		ID:             m.ID,
		UserID:         m.UserID,
		SoulID:         m.SoulID,
		Network:        m.Network,
		NetworkEventID: m.NetworkEventID,
		Type:           m.Type,
		Placement:      m.Placement,
		RewardType:     m.RewardType,
		RewardAmount:   m.RewardAmount,
		SSVVerified:    m.SSVVerified,
		CreatedAt:      m.CreatedAt,
	}
}
