package emotion

import (
	"context"
	"log/slog"

	"github.com/easeaico/soullink/internal/types"
)

// Service turns a user message into the mood and intimacy delta of a turn.
// It reads the link but never writes it; the chat pipeline commits the outcome.
type Service struct {
	stateMachine *StateMachine
	analyzer     *Analyzer
}

// NewService returns a new emotion service. A nil analyzer treats every
// message as Neutral.
func NewService(stateMachine *StateMachine, analyzer *Analyzer) *Service {
	return &Service{
		stateMachine: stateMachine,
		analyzer:     analyzer,
	}
}

// Evaluate classifies message and advances the link's emotion state.
// Analyzer failures degrade to Neutral.
func (s *Service) Evaluate(ctx context.Context, link *types.LinkState, message string) Outcome {
	return s.Apply(link, s.Classify(ctx, link, message))
}

// Classify labels message. Analyzer failures degrade to Neutral.
func (s *Service) Classify(ctx context.Context, link *types.LinkState, message string) EmotionLabel {
	if s.analyzer == nil {
		return EmotionNeutral
	}
	label, err := s.analyzer.Analyze(ctx, message)
	if err != nil {
		slog.Warn("sentiment analysis failed", "user_id", link.UserID, "soul_id", link.SoulID, "error", err)
		return EmotionNeutral
	}
	return label
}

// Apply advances the link's stored emotion state with label.
func (s *Service) Apply(link *types.LinkState, label EmotionLabel) Outcome {
	state := StateFromFlags(link.IntimacyScore, link.CurrentMood, link.Flags)
	return s.stateMachine.Update(state, label)
}
