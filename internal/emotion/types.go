package emotion

// EmotionLabel is a sentiment label.
type EmotionLabel string

const (
	EmotionPositive EmotionLabel = "Positive"
	EmotionNegative EmotionLabel = "Negative"
	EmotionNeutral  EmotionLabel = "Neutral"
)

// Flag keys under which the streak is persisted in Link State flags.
const (
	FlagLastLabel = "emotion_last_label"
	FlagMoodTurns = "emotion_mood_turns"
)

// EmotionState is the mood of one link plus the label streak behind it.
type EmotionState struct {
	Intimacy    int
	CurrentMood string
	MoodTurns   int
	LastLabel   string
}

// Outcome is the result of one turn.
type Outcome struct {
	State         EmotionState
	Label         EmotionLabel
	IntimacyDelta int
}

// Flags returns the streak fields for persistence.
func (o Outcome) Flags() map[string]any {
	return map[string]any{
		FlagLastLabel: o.State.LastLabel,
		FlagMoodTurns: o.State.MoodTurns,
	}
}

// StateFromFlags restores the streak from Link State flags.
func StateFromFlags(intimacy int, mood string, flags map[string]any) EmotionState {
	state := EmotionState{Intimacy: intimacy, CurrentMood: mood}
	if label, ok := flags[FlagLastLabel].(string); ok {
		state.LastLabel = label
	}
	switch turns := flags[FlagMoodTurns].(type) {
	case int:
		state.MoodTurns = turns
	case float64:
		state.MoodTurns = int(turns)
	}
	return state
}
