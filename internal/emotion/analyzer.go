package emotion

import (
	"context"
	"fmt"
	"strings"

	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/types"
)

const analyzerInstruction = `You are a sentiment classifier. Reply with exactly one label: Positive, Negative or Neutral. Output nothing else.`

// Analyzer classifies the sentiment of a user message.
type Analyzer struct {
	model models.Completer
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(m models.Completer) *Analyzer {
	return &Analyzer{model: m}
}

// Analyze returns the sentiment label for text.
func (a *Analyzer) Analyze(ctx context.Context, text string) (EmotionLabel, error) {
	if a == nil || a.model == nil {
		return EmotionNeutral, fmt.Errorf("emotion analyzer not configured")
	}

	if strings.TrimSpace(text) == "" {
		return EmotionNeutral, nil
	}

	out, err := a.model.Complete(ctx, models.Request{
		Messages: []types.ChatTurn{
			{Role: types.RoleSystem, Content: analyzerInstruction},
			{Role: types.RoleUser, Content: text},
		},
		MaxTokens: 4,
	})
	if err != nil {
		return EmotionNeutral, err
	}
	return parseLabel(out), nil
}

func parseLabel(out string) EmotionLabel {
	label := strings.ToLower(strings.Trim(strings.TrimSpace(out), ".!\"'"))
	switch {
	case strings.HasPrefix(label, "positive"):
		return EmotionPositive
	case strings.HasPrefix(label, "negative"):
		return EmotionNegative
	default:
		return EmotionNeutral
	}
}
