package chronicle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/types"
)

type fakeModel struct {
	reply string
	err   error
	block bool
	req   models.Request
}

func (f *fakeModel) Complete(ctx context.Context, req models.Request) (string, error) {
	f.req = req
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func TestDueBoundary(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if !Due(now.Add(-4*time.Hour), now, DefaultGap) {
		t.Fatalf("exactly four hours must trigger")
	}
	if Due(now.Add(-4*time.Hour+time.Second), now, DefaultGap) {
		t.Fatalf("four hours minus one second must not trigger")
	}
	if Due(time.Time{}, now, DefaultGap) {
		t.Fatalf("zero last interaction must not trigger")
	}
}

func TestNarrateUsesModel(t *testing.T) {
	model := &fakeModel{reply: "Neon rain washed the plaza clean. Nobody noticed."}
	n := NewNarrator(model, 0, time.Second)
	got := n.Narrate(context.Background(), Scene{Elapsed: 5 * time.Hour, Location: "Soul Plaza", Weather: "electric"})
	if got != "Neon rain washed the plaza clean." {
		t.Fatalf("expected first sentence only, got %q", got)
	}
	if model.req.MaxTokens != 80 || !strings.Contains(model.req.Messages[1].Content, "Hours passed: 5") {
		t.Fatalf("unexpected narrator request: %+v", model.req)
	}
	if model.req.Messages[0].Role != types.RoleSystem {
		t.Fatalf("narrator instruction must be the system turn")
	}
}

func TestNarrateFallsBackOnErrorAndTimeout(t *testing.T) {
	scene := Scene{Elapsed: 7 * time.Hour, Location: "Neon Nights", Weather: "amber"}
	want := "Time skips forward (7h). You are now at Neon Nights."

	failing := NewNarrator(&fakeModel{err: errors.New("boom")}, 0, time.Second)
	if got := failing.Narrate(context.Background(), scene); got != want {
		t.Fatalf("expected fallback %q, got %q", want, got)
	}

	slow := NewNarrator(&fakeModel{block: true}, 0, 10*time.Millisecond)
	if got := slow.Narrate(context.Background(), scene); got != want {
		t.Fatalf("expected fallback on timeout, got %q", got)
	}

	offline := NewNarrator(nil, 0, 0)
	if got := offline.Narrate(context.Background(), scene); got != want {
		t.Fatalf("expected template without model, got %q", got)
	}
}

func TestFallbackTemplates(t *testing.T) {
	cases := map[time.Duration]string{
		6 * time.Hour: "It has been 6 hours. The city hums with crisp energy.",
		4 * time.Hour: "Time skips forward (4h). You are now at Soul Plaza.",
		5 * time.Hour: "The scene fades. 5 hours later, the lights of Soul Plaza flicker back to life.",
	}
	for elapsed, want := range cases {
		got := Fallback(Scene{Elapsed: elapsed, Location: "Soul Plaza", Weather: WeatherFor(types.SlotMorning)})
		if got != want {
			t.Fatalf("Fallback(%s) = %q, want %q", elapsed, got, want)
		}
	}
}
