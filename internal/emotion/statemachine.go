package emotion

// StateMachine updates mood and scales the intimacy delta.
type StateMachine struct {
	baseDelta int
}

const (
	minMoodTurns      = 2
	negativeThreshold = 2
	positiveThreshold = 2
)

// NewStateMachine returns a StateMachine with the configured non-negative
// per-turn intimacy delta.
func NewStateMachine(baseDelta int) *StateMachine {
	if baseDelta < 0 {
		baseDelta = 0
	}
	return &StateMachine{baseDelta: baseDelta}
}

// Delta returns the intimacy delta for label. It is never negative.
func (s *StateMachine) Delta(label EmotionLabel) int {
	switch label {
	case EmotionNegative:
		return 0
	case EmotionPositive:
		if s.baseDelta == 0 {
			return 0
		}
		return s.baseDelta + 1
	default:
		return s.baseDelta
	}
}

// Update returns the next emotion state for label.
func (s *StateMachine) Update(state EmotionState, label EmotionLabel) Outcome {
	delta := s.Delta(label)
	state.Intimacy += delta

	if state.CurrentMood == "" {
		state.CurrentMood = "neutral"
	}

	labelStr := string(label)
	streak := 1
	if state.LastLabel == labelStr {
		streak = state.MoodTurns + 1
	}

	desired := deriveMood(state.Intimacy, label, state.CurrentMood)
	switch label {
	case EmotionPositive:
		if desired != state.CurrentMood && streak >= positiveThreshold && streak >= minMoodTurns {
			state.CurrentMood = desired
		}
	case EmotionNegative:
		if desired != state.CurrentMood && streak >= negativeThreshold && streak >= minMoodTurns {
			state.CurrentMood = desired
		}
	case EmotionNeutral:
		// Keep current mood for neutral signals to stabilize.
	}

	state.LastLabel = labelStr
	state.MoodTurns = streak
	return Outcome{State: state, Label: label, IntimacyDelta: delta}
}

func deriveMood(intimacy int, label EmotionLabel, current string) string {
	switch label {
	case EmotionNegative:
		if intimacy <= 30 {
			return "angry"
		}
		return "sad"
	case EmotionPositive:
		return "happy"
	case EmotionNeutral:
		if current != "" {
			return current
		}
		return "neutral"
	default:
		return "neutral"
	}
}
