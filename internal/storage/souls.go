package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/soullink/internal/types"
)

// GetSoul fetches the static identity of a soul.
func (s *Store) GetSoul(ctx context.Context, soulID string) (*types.Soul, error) {
	var model soulModel
	if err := s.db.WithContext(ctx).Where("soul_id = ?", soulID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get soul: %w", err)
	}
	soul := soulFromModel(model)
	return &soul, nil
}

// ListSouls returns every soul ordered by id.
func (s *Store) ListSouls(ctx context.Context) ([]types.Soul, error) {
	var models []soulModel
	if err := s.db.WithContext(ctx).Order("soul_id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list souls: %w", err)
	}
	souls := make([]types.Soul, 0, len(models))
	for _, m := range models {
		souls = append(souls, soulFromModel(m))
	}
	return souls, nil
}

// GetDefinition loads the logic pillar of a soul.
func (s *Store) GetDefinition(ctx context.Context, soulID string) (*types.SoulDefinition, error) {
	var model soulPillarModel
	if err := s.db.WithContext(ctx).Where("soul_id = ?", soulID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get soul definition: %w", err)
	}
	return definitionFromModel(model)
}

// GetRoutine loads only the routine block of a soul.
func (s *Store) GetRoutine(ctx context.Context, soulID string) (*types.Routine, error) {
	var model soulPillarModel
	err := s.db.WithContext(ctx).
		Select("soul_id", "routine").
		Where("soul_id = ?", soulID).
		First(&model).Error
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get routine: %w", err)
	}
	var routine types.Routine
	if err := unmarshalJSON(model.Routine, &routine); err != nil {
		return nil, fmt.Errorf("corrupted routine block for %s: %w", soulID, err)
	}
	return &routine, nil
}

// ListRoutines loads routine blocks for many souls in one query.
func (s *Store) ListRoutines(ctx context.Context, soulIDs []string) (map[string]types.Routine, error) {
	result := make(map[string]types.Routine, len(soulIDs))
	if len(soulIDs) == 0 {
		return result, nil
	}
	var models []soulPillarModel
	err := s.db.WithContext(ctx).
		Select("soul_id", "routine").
		Where("soul_id IN ?", soulIDs).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	for _, m := range models {
		var routine types.Routine
		if err := unmarshalJSON(m.Routine, &routine); err != nil {
			return nil, fmt.Errorf("corrupted routine block for %s: %w", m.SoulID, err)
		}
		result[m.SoulID] = routine
	}
	return result, nil
}

// GetSoulState loads the global live state of a soul.
func (s *Store) GetSoulState(ctx context.Context, soulID string) (*types.SoulState, error) {
	var model soulStateModel
	if err := s.db.WithContext(ctx).Where("soul_id = ?", soulID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get soul state: %w", err)
	}
	state := soulStateFromModel(model)
	return &state, nil
}

// ListSoulStates loads live states for many souls in one query.
func (s *Store) ListSoulStates(ctx context.Context, soulIDs []string) (map[string]types.SoulState, error) {
	result := make(map[string]types.SoulState, len(soulIDs))
	if len(soulIDs) == 0 {
		return result, nil
	}
	var models []soulStateModel
	if err := s.db.WithContext(ctx).Where("soul_id IN ?", soulIDs).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list soul states: %w", err)
	}
	for _, m := range models {
		result[m.SoulID] = soulStateFromModel(m)
	}
	return result, nil
}

// UpdateSoulLocation writes the global live location, creating the state row if needed.
func (s *Store) UpdateSoulLocation(ctx context.Context, soulID, locationID string) error {
	now := time.Now().UTC()
	model := soulStateModel{
		SoulID:            soulID,
		CurrentLocationID: locationID,
		Energy:            100,
		Mood:              "neutral",
		PerformanceMode:   100,
		LastUpdated:       now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "soul_id"}},
		DoUpdates: clause.Assignments(map[string]any{"current_location_id": locationID, "last_updated": now}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to update soul location: %w", err)
	}
	return nil
}

// UpsertSoul writes all three pillars of a soul in one transaction. The live
// state is only created, never reset.
func (s *Store) UpsertSoul(ctx context.Context, soul types.Soul, def types.SoulDefinition, initialLocation string) error {
	pillar, err := definitionToModel(def)
	if err != nil {
		return err
	}
	if soul.CreatedAt.IsZero() {
		soul.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		identity := soulModel{
			SoulID:      soul.ID,
			Name:        soul.Name,
			Summary:     soul.Summary,
			PortraitURL: soul.PortraitURL,
			Archetype:   soul.Archetype,
			Version:     soul.Version,
			CreatedAt:   soul.CreatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "soul_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "summary", "portrait_url", "archetype", "version"}),
		}).Create(&identity).Error; err != nil {
			return fmt.Errorf("failed to upsert soul: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&pillar).Error; err != nil {
			return fmt.Errorf("failed to upsert soul pillar: %w", err)
		}
		if initialLocation == "" {
			initialLocation = "soul_plaza"
		}
		state := soulStateModel{
			SoulID:            soul.ID,
			CurrentLocationID: initialLocation,
			Energy:            100,
			Mood:              "neutral",
			PerformanceMode:   100,
			LastUpdated:       time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			return fmt.Errorf("failed to create soul state: %w", err)
		}
		return nil
	})
}

func soulFromModel(model soulModel) types.Soul {
	return types.Soul{
		ID:          model.SoulID,
		Name:        model.Name,
		Summary:     model.Summary,
		PortraitURL: model.PortraitURL,
		Archetype:   model.Archetype,
		Version:     model.Version,
		CreatedAt:   model.CreatedAt,
	}
}

func soulStateFromModel(model soulStateModel) types.SoulState {
	return types.SoulState{
		SoulID:            model.SoulID,
		CurrentLocationID: model.CurrentLocationID,
		Energy:            model.Energy,
		Mood:              model.Mood,
		AnxietyLevel:      model.AnxietyLevel,
		PerformanceMode:   model.PerformanceMode,
		LastUpdated:       model.LastUpdated,
	}
}

func definitionFromModel(model soulPillarModel) (*types.SoulDefinition, error) {
	def := &types.SoulDefinition{SoulID: model.SoulID}
	blocks := []struct {
		name   string
		raw    []byte
		target any
	}{
		{"identity", model.Identity, &def.Identity},
		{"aesthetic", model.Aesthetic, &def.Aesthetic},
		{"systems_config", model.SystemsConfig, &def.Systems},
		{"routine", model.Routine, &def.Routine},
		{"relationships", model.Relationships, &def.Relationships},
		{"lore_associations", model.LoreAssociations, &def.Lore},
		{"interaction_system", model.InteractionSystem, &def.Interaction},
		{"prompts", model.Prompts, &def.Prompts},
		{"meta_data", model.MetaData, &def.Meta},
	}
	for _, b := range blocks {
		if err := unmarshalJSON(b.raw, b.target); err != nil {
			return nil, fmt.Errorf("corrupted %s block for %s: %w", b.name, model.SoulID, err)
		}
	}
	return def, nil
}

func definitionToModel(def types.SoulDefinition) (soulPillarModel, error) {
	model := soulPillarModel{SoulID: def.SoulID}
	blocks := []struct {
		name   string
		value  any
		target *[]byte
	}{
		{"identity", def.Identity, (*[]byte)(&model.Identity)},
		{"aesthetic", def.Aesthetic, (*[]byte)(&model.Aesthetic)},
		{"systems_config", def.Systems, (*[]byte)(&model.SystemsConfig)},
		{"routine", def.Routine, (*[]byte)(&model.Routine)},
		{"relationships", def.Relationships, (*[]byte)(&model.Relationships)},
		{"lore_associations", def.Lore, (*[]byte)(&model.LoreAssociations)},
		{"interaction_system", def.Interaction, (*[]byte)(&model.InteractionSystem)},
		{"prompts", def.Prompts, (*[]byte)(&model.Prompts)},
		{"meta_data", def.Meta, (*[]byte)(&model.MetaData)},
	}
	for _, b := range blocks {
		raw, err := marshalJSON(b.value)
		if err != nil {
			return soulPillarModel{}, fmt.Errorf("failed to encode %s block: %w", b.name, err)
		}
		*b.target = raw
	}
	return model, nil
}
