package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/soullink/internal/types"
)

// GetUser fetches a local user row.
func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user := userFromModel(model)
	return &user, nil
}

// CreateUserWithPersona provisions a user and its first active mask. When a
// concurrent request created the user first, the stored row is returned.
func (s *Store) CreateUserWithPersona(ctx context.Context, user types.User, persona types.UserPersona) (*types.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.CurrentTimeSlot == "" {
		user.CurrentTimeSlot = types.SlotMorning
	}
	if user.AccountTier == "" {
		user.AccountTier = "free"
	}
	record := userToModel(user)
	personaRecord, err := personaToModel(persona)
	if err != nil {
		return nil, err
	}
	personaRecord.UserID = user.ID
	personaRecord.IsActive = true
	if personaRecord.CreatedAt.IsZero() {
		personaRecord.CreatedAt = user.CreatedAt
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Create(&personaRecord).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return s.GetUser(ctx, user.ID)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	created := userFromModel(record)
	return &created, nil
}

// UpdateTimeSlot stores the user's current slot.
func (s *Store) UpdateTimeSlot(ctx context.Context, userID string, slot types.TimeSlot) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("user_id = ?", userID).Update("current_time_slot", string(slot))
	if res.Error != nil {
		return fmt.Errorf("failed to update time slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActivePersona returns the active mask, or nil when the user has none.
func (s *Store) GetActivePersona(ctx context.Context, userID string) (*types.UserPersona, error) {
	var records []userPersonaModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active persona: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	persona, err := personaFromModel(records[0])
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

// ListPersonas returns every mask of a user in creation order.
func (s *Store) ListPersonas(ctx context.Context, userID string) ([]types.UserPersona, error) {
	var records []userPersonaModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	results := make([]types.UserPersona, 0, len(records))
	for _, r := range records {
		p, err := personaFromModel(r)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, nil
}

// CreatePersona adds a mask. The first mask of a user is always active; a new
// active mask deactivates the others in the same transaction.
func (s *Store) CreatePersona(ctx context.Context, persona types.UserPersona) (*types.UserPersona, error) {
	record, err := personaToModel(persona)
	if err != nil {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&userPersonaModel{}).Where("user_id = ? AND is_active = ?", record.UserID, true).Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			record.IsActive = true
		}
		if record.IsActive && active > 0 {
			if err := tx.Model(&userPersonaModel{}).Where("user_id = ?", record.UserID).Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create persona: %w", err)
	}
	created, err := personaFromModel(record)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ActivatePersona makes personaID the only active mask of the user.
func (s *Store) ActivatePersona(ctx context.Context, userID string, personaID uint) (*types.UserPersona, error) {
	var record userPersonaModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", personaID, userID).First(&record).Error; err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&userPersonaModel{}).Where("user_id = ? AND id <> ?", userID, personaID).Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&userPersonaModel{}).Where("id = ?", personaID).Update("is_active", true).Error; err != nil {
			return err
		}
		record.IsActive = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to activate persona: %w", err)
	}
	persona, err := personaFromModel(record)
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

// ProfilePatch carries optional profile edits. Nil fields are left unchanged.
type ProfilePatch struct {
	DisplayName *string
	Bio         *string
	Gender      *string
	Age         *int
}

// UpdateProfile applies patch to the user row and its active mask in one
// transaction. The mask's screen name follows the display name.
func (s *Store) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*types.UserPersona, error) {
	var record userPersonaModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND is_active = ?", userID, true).Order("id ASC").First(&record).Error
		if err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return err
		}
		updates := map[string]any{}
		if patch.DisplayName != nil {
			if err := tx.Model(&userModel{}).Where("user_id = ?", userID).Update("display_name", *patch.DisplayName).Error; err != nil {
				return err
			}
			updates["screen_name"] = *patch.DisplayName
			record.ScreenName = *patch.DisplayName
		}
		if patch.Bio != nil {
			updates["bio"] = *patch.Bio
			record.Bio = *patch.Bio
		}
		if patch.Gender != nil {
			updates["gender"] = *patch.Gender
			record.Gender = patch.Gender
		}
		if patch.Age != nil {
			updates["age"] = *patch.Age
			record.Age = patch.Age
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&userPersonaModel{}).Where("id = ?", record.ID).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	persona, err := personaFromModel(record)
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

func userFromModel(model userModel) types.User {
	user := types.User{
		ID:              model.UserID,
		Username:        model.Username,
		DisplayName:     model.DisplayName,
		AccountTier:     model.AccountTier,
		CurrentTimeSlot: types.TimeSlot(model.CurrentTimeSlot),
		TotalAdsWatched: model.TotalAdsWatched,
		CreatedAt:       model.CreatedAt,
	}
	if model.StabilityOverdriveUntil != nil {
		until := model.StabilityOverdriveUntil.UTC()
		user.StabilityOverdriveUntil = &until
	}
	if !user.CurrentTimeSlot.Valid() {
		user.CurrentTimeSlot = types.SlotMorning
	}
	return user
}

func userToModel(user types.User) userModel {
	return userModel{
		UserID:                  user.ID,
		Username:                user.Username,
		DisplayName:             user.DisplayName,
		AccountTier:             user.AccountTier,
		CurrentTimeSlot:         string(user.CurrentTimeSlot),
		StabilityOverdriveUntil: user.StabilityOverdriveUntil,
		TotalAdsWatched:         user.TotalAdsWatched,
		CreatedAt:               user.CreatedAt,
	}
}

func personaFromModel(model userPersonaModel) (types.UserPersona, error) {
	persona := types.UserPersona{
		ID:             model.ID,
		UserID:         model.UserID,
		ScreenName:     model.ScreenName,
		Bio:            model.Bio,
		Age:            model.Age,
		Gender:         model.Gender,
		IdentityAnchor: model.IdentityAnchor,
		IsActive:       model.IsActive,
		CreatedAt:      model.CreatedAt,
	}
	if err := unmarshalJSON(model.Meta, &persona.Meta); err != nil {
		return types.UserPersona{}, fmt.Errorf("failed to decode persona meta: %w", err)
	}
	return persona, nil
}

func personaToModel(persona types.UserPersona) (userPersonaModel, error) {
	meta, err := marshalJSON(persona.Meta)
	if err != nil {
		return userPersonaModel{}, fmt.Errorf("failed to encode persona meta: %w", err)
	}
	return userPersonaModel{
		ID:             persona.ID,
		UserID:         persona.UserID,
		ScreenName:     persona.ScreenName,
		Bio:            persona.Bio,
		Age:            persona.Age,
		Gender:         persona.Gender,
		IdentityAnchor: persona.IdentityAnchor,
		Meta:           meta,
		IsActive:       persona.IsActive,
		CreatedAt:      persona.CreatedAt,
	}, nil
}
