package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/easeaico/soullink/internal/types"
)

// GetLocation fetches one location.
func (s *Store) GetLocation(ctx context.Context, locationID string) (*types.Location, error) {
	var model locationModel
	if err := s.db.WithContext(ctx).Where("location_id = ?", locationID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return locationFromModel(model)
}

// ListLocations returns every location ordered by id.
func (s *Store) ListLocations(ctx context.Context) ([]types.Location, error) {
	var models []locationModel
	if err := s.db.WithContext(ctx).Order("location_id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	results := make([]types.Location, 0, len(models))
	for _, m := range models {
		loc, err := locationFromModel(m)
		if err != nil {
			return nil, err
		}
		results = append(results, *loc)
	}
	return results, nil
}

// UpsertLocation inserts or replaces a location.
func (s *Store) UpsertLocation(ctx context.Context, loc types.Location) error {
	model, err := locationToModel(loc)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}
	return nil
}

func locationFromModel(model locationModel) (*types.Location, error) {
	loc := &types.Location{
		ID:          model.LocationID,
		DisplayName: model.DisplayName,
		Category:    model.Category,
		Description: model.Description,
		MinIntimacy: model.MinIntimacy,
	}
	if err := unmarshalJSON(model.SystemModifiers, &loc.SystemModifiers); err != nil {
		return nil, fmt.Errorf("corrupted system_modifiers for %s: %w", model.LocationID, err)
	}
	if err := unmarshalJSON(model.GameLogic, &loc.GameLogic); err != nil {
		return nil, fmt.Errorf("corrupted game_logic for %s: %w", model.LocationID, err)
	}
	if err := unmarshalJSON(model.Lore, &loc.Lore); err != nil {
		return nil, fmt.Errorf("corrupted lore for %s: %w", model.LocationID, err)
	}
	if loc.SystemModifiers.PrivacyGate == "" {
		loc.SystemModifiers.PrivacyGate = types.PrivacyPublic
	}
	return loc, nil
}

func locationToModel(loc types.Location) (locationModel, error) {
	modifiers, err := marshalJSON(loc.SystemModifiers)
	if err != nil {
		return locationModel{}, fmt.Errorf("failed to encode system_modifiers: %w", err)
	}
	gameLogic, err := marshalJSON(loc.GameLogic)
	if err != nil {
		return locationModel{}, fmt.Errorf("failed to encode game_logic: %w", err)
	}
	lore, err := marshalJSON(loc.Lore)
	if err != nil {
		return locationModel{}, fmt.Errorf("failed to encode lore: %w", err)
	}
	return locationModel{
		LocationID:      loc.ID,
		DisplayName:     loc.DisplayName,
		Category:        loc.Category,
		Description:     loc.Description,
		SystemModifiers: modifiers,
		MinIntimacy:     loc.MinIntimacy,
		GameLogic:       gameLogic,
		Lore:            lore,
	}, nil
}
