package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/easeaico/soullink/internal/types"
)

// GetSoulMemory returns the memory row of a link, or ErrNotFound.
func (s *Store) GetSoulMemory(ctx context.Context, linkID uint) (*types.SoulMemory, error) {
	var model soulMemoryModel
	if err := s.db.WithContext(ctx).Where("link_state_id = ?", linkID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get soul memory: %w", err)
	}
	memory := types.SoulMemory{
		LinkStateID: model.LinkStateID,
		UserID:      model.UserID,
		SoulID:      model.SoulID,
		Summary:     model.Summary,
		UpdatedAt:   model.UpdatedAt,
	}
	if err := unmarshalJSON(model.Facts, &memory.Facts); err != nil {
		return nil, fmt.Errorf("failed to decode memory facts: %w", err)
	}
	if err := unmarshalJSON(model.Milestones, &memory.Milestones); err != nil {
		return nil, fmt.Errorf("failed to decode memory milestones: %w", err)
	}
	return &memory, nil
}

// SaveSoulMemory upserts the summary, facts and milestones of a link.
func (s *Store) SaveSoulMemory(ctx context.Context, memory types.SoulMemory) error {
	facts, err := marshalJSON(memory.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode memory facts: %w", err)
	}
	milestones, err := marshalJSON(memory.Milestones)
	if err != nil {
		return fmt.Errorf("failed to encode memory milestones: %w", err)
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = time.Now().UTC()
	}
	model := soulMemoryModel{
		LinkStateID: memory.LinkStateID,
		UserID:      memory.UserID,
		SoulID:      memory.SoulID,
		Summary:     memory.Summary,
		Facts:       facts,
		Milestones:  milestones,
		UpdatedAt:   memory.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "link_state_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "facts", "milestones", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save soul memory: %w", err)
	}
	return nil
}
