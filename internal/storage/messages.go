package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/easeaico/soullink/internal/types"
)

// ListRecentMessages returns the latest limit user/assistant messages, oldest first.
// Narrator rows are excluded.
func (s *Store) ListRecentMessages(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error) {
	var records []messageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND soul_id = ? AND role <> ?", userID, soulID, string(types.RoleSystem)).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	return messagesFromModels(records, true)
}

// GenesisMessage returns the first user/assistant message of a pair, or nil.
func (s *Store) GenesisMessage(ctx context.Context, userID, soulID string) (*types.Message, error) {
	var records []messageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND soul_id = ? AND role <> ?", userID, soulID, string(types.RoleSystem)).
		Order("created_at ASC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query genesis message: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	msg, err := messageFromModel(records[0])
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListHistory returns the latest limit messages of every role, oldest first.
func (s *Store) ListHistory(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error) {
	var records []messageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND soul_id = ?", userID, soulID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	return messagesFromModels(records, true)
}

func messagesFromModels(records []messageModel, reverse bool) ([]types.Message, error) {
	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		msg, err := messageFromModel(record)
		if err != nil {
			return nil, err
		}
		results = append(results, msg)
	}
	if reverse {
		// Oldest -> newest
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	return results, nil
}

func messageFromModel(record messageModel) (types.Message, error) {
	msg := types.Message{
		ID:        record.MessageID,
		UserID:    record.UserID,
		SoulID:    record.SoulID,
		Role:      types.Role(record.Role),
		Content:   record.Content,
		CreatedAt: record.CreatedAt,
	}
	if err := unmarshalJSON(record.Meta, &msg.Meta); err != nil {
		return types.Message{}, fmt.Errorf("failed to decode message meta: %w", err)
	}
	return msg, nil
}

func messageToModel(msg types.Message) (messageModel, error) {
	meta, err := marshalJSON(msg.Meta)
	if err != nil {
		return messageModel{}, fmt.Errorf("failed to encode message meta: %w", err)
	}
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return messageModel{
		MessageID: id,
		UserID:    msg.UserID,
		SoulID:    msg.SoulID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Meta:      meta,
		CreatedAt: msg.CreatedAt,
	}, nil
}
