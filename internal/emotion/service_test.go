package emotion

import (
	"context"
	"errors"
	"testing"

	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/types"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, req models.Request) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestStateMachineDeltaIsNeverNegative(t *testing.T) {
	sm := NewStateMachine(1)
	if sm.Delta(EmotionNegative) != 0 || sm.Delta(EmotionNeutral) != 1 || sm.Delta(EmotionPositive) != 2 {
		t.Fatalf("unexpected deltas: %d %d %d", sm.Delta(EmotionNegative), sm.Delta(EmotionNeutral), sm.Delta(EmotionPositive))
	}
	zero := NewStateMachine(-4)
	if zero.Delta(EmotionPositive) != 0 {
		t.Fatalf("disabled delta must stay zero")
	}
}

func TestStateMachinePositiveOnceKeepsMood(t *testing.T) {
	out := NewStateMachine(1).Update(EmotionState{Intimacy: 50, CurrentMood: "neutral"}, EmotionPositive)
	if out.State.Intimacy != 52 || out.State.CurrentMood != "neutral" {
		t.Fatalf("unexpected state: %#v", out.State)
	}
	if out.State.LastLabel != "Positive" || out.State.MoodTurns != 1 || out.IntimacyDelta != 2 {
		t.Fatalf("unexpected label tracking: %#v", out)
	}
}

func TestStateMachineNegativeTwiceFlipsMood(t *testing.T) {
	sm := NewStateMachine(1)
	out := sm.Update(EmotionState{Intimacy: 40, CurrentMood: "neutral", LastLabel: "Negative", MoodTurns: 1}, EmotionNegative)
	if out.State.CurrentMood != "sad" || out.State.MoodTurns != 2 || out.IntimacyDelta != 0 {
		t.Fatalf("expected sad after two negatives, got %#v", out)
	}
	low := sm.Update(EmotionState{Intimacy: 10, CurrentMood: "neutral", LastLabel: "Negative", MoodTurns: 1}, EmotionNegative)
	if low.State.CurrentMood != "angry" {
		t.Fatalf("expected angry at low intimacy, got %s", low.State.CurrentMood)
	}
}

func TestStateMachineNeutralKeepsMood(t *testing.T) {
	out := NewStateMachine(1).Update(EmotionState{Intimacy: 50, CurrentMood: "sad", LastLabel: "Neutral", MoodTurns: 4}, EmotionNeutral)
	if out.State.CurrentMood != "sad" || out.State.MoodTurns != 5 {
		t.Fatalf("unexpected state: %#v", out.State)
	}
}

func TestServiceEvaluateUsesPersistedStreak(t *testing.T) {
	completer := &fakeCompleter{reply: "Positive."}
	svc := NewService(NewStateMachine(1), NewAnalyzer(completer))
	link := &types.LinkState{
		IntimacyScore: 30,
		CurrentMood:   "neutral",
		Flags:         map[string]any{FlagLastLabel: "Positive", FlagMoodTurns: float64(1)},
	}
	out := svc.Evaluate(context.Background(), link, "you made my day")
	if out.Label != EmotionPositive || out.State.CurrentMood != "happy" || out.IntimacyDelta != 2 {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	flags := out.Flags()
	if flags[FlagLastLabel] != "Positive" || flags[FlagMoodTurns] != 2 {
		t.Fatalf("unexpected flags: %v", flags)
	}
}

func TestServiceEvaluateDegradesToNeutral(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("boom")}
	svc := NewService(NewStateMachine(1), NewAnalyzer(completer))
	out := svc.Evaluate(context.Background(), &types.LinkState{IntimacyScore: 5}, "hello")
	if out.Label != EmotionNeutral || out.IntimacyDelta != 1 || out.State.CurrentMood != "neutral" {
		t.Fatalf("unexpected outcome: %#v", out)
	}

	noAnalyzer := NewService(NewStateMachine(1), nil)
	if out := noAnalyzer.Evaluate(context.Background(), &types.LinkState{}, "hello"); out.Label != EmotionNeutral {
		t.Fatalf("expected neutral without analyzer, got %s", out.Label)
	}
}

func TestParseLabel(t *testing.T) {
	for in, want := range map[string]EmotionLabel{
		"Positive": EmotionPositive, " negative.": EmotionNegative, "Neutral": EmotionNeutral, "???": EmotionNeutral,
	} {
		if got := parseLabel(in); got != want {
			t.Fatalf("parseLabel(%q) = %s, want %s", in, got, want)
		}
	}
}
