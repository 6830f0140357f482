// Package chronicle bridges real-world gaps between chat sessions with a
// one-sentence narrator interjection.
package chronicle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/types"
)

// DefaultGap is the minimum silence that earns a chronicle.
const DefaultGap = 4 * time.Hour

// EventType is the system_event type returned with a chronicle turn.
const EventType = "chronicle_break"

const narratorInstruction = "You are the Narrator. Write ONE cinematic sentence, at most 80 tokens, no character names. " +
	"Describe how the city moved on while the user was away. Output only the sentence."

// Scene is what the narrator may mention.
type Scene struct {
	Elapsed  time.Duration
	Location string
	Weather  string
}

// Hours returns the whole hours elapsed.
func (s Scene) Hours() int {
	return int(s.Elapsed / time.Hour)
}

// Narrator decides and writes chronicle breaks.
type Narrator struct {
	model   models.Completer
	gap     time.Duration
	timeout time.Duration
}

// NewNarrator creates a Narrator. model may be nil, in which case only the
// templates are used.
func NewNarrator(model models.Completer, gap, timeout time.Duration) *Narrator {
	if gap <= 0 {
		gap = DefaultGap
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Narrator{model: model, gap: gap, timeout: timeout}
}

// Gap returns the configured threshold.
func (n *Narrator) Gap() time.Duration {
	return n.gap
}

// Due reports whether the silence since last reaches the threshold.
func (n *Narrator) Due(last, now time.Time) bool {
	return Due(last, now, n.gap)
}

// Due reports whether now - last >= gap. A zero last never triggers.
func Due(last, now time.Time, gap time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= gap
}

// Narrate returns the chronicle sentence. It never fails: model errors and
// timeouts fall back to a template.
func (n *Narrator) Narrate(ctx context.Context, scene Scene) string {
	if n.model == nil {
		return Fallback(scene)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	text, err := n.model.Complete(ctx, models.Request{
		Messages: []types.ChatTurn{
			{Role: types.RoleSystem, Content: narratorInstruction},
			{Role: types.RoleUser, Content: fmt.Sprintf("Hours passed: %d. Location: %s. Weather: %s.",
				scene.Hours(), scene.Location, scene.Weather)},
		},
		Temperature: 0.9,
		MaxTokens:   80,
	})
	if err != nil {
		slog.Warn("narrator failed, using template", "error", err)
		return Fallback(scene)
	}
	text = firstSentence(strings.TrimSpace(text))
	if text == "" {
		return Fallback(scene)
	}
	return text
}

// Fallback renders one of three templates. The choice depends only on the
// elapsed hours.
func Fallback(scene Scene) string {
	hours := scene.Hours()
	location := scene.Location
	if location == "" {
		location = "the city"
	}
	weather := scene.Weather
	if weather == "" {
		weather = "shifting"
	}
	switch hours % 3 {
	case 0:
		return fmt.Sprintf("It has been %d hours. The city hums with %s energy.", hours, weather)
	case 1:
		return fmt.Sprintf("Time skips forward (%dh). You are now at %s.", hours, location)
	default:
		return fmt.Sprintf("The scene fades. %d hours later, the lights of %s flicker back to life.", hours, location)
	}
}

// WeatherFor maps a time slot onto the city's ambient weather.
func WeatherFor(slot types.TimeSlot) string {
	switch slot {
	case types.SlotMorning:
		return "crisp"
	case types.SlotAfternoon:
		return "restless"
	case types.SlotEvening:
		return "amber"
	case types.SlotNight:
		return "electric"
	case types.SlotHomeTime:
		return "quiet"
	default:
		return "shifting"
	}
}

// Injection is the world-state text handed to the context assembler.
func Injection(text string) string {
	return "[SYSTEM EVENT] " + text
}

// Event is the system_event payload of a chronicle turn.
func Event(text string) map[string]any {
	return map[string]any{"type": EventType, "text": text}
}

// firstSentence keeps the model to one sentence.
func firstSentence(text string) string {
	text = strings.Trim(text, "\"")
	for i, r := range text {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			return text[:i+1]
		}
	}
	return text
}
