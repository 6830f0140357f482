// Package memory compresses a link's conversation into a durable summary.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"

	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// MaxMilestones bounds the milestone list kept per link.
const MaxMilestones = 20

// summaryInstruction asks the model for a JSON object only.
const summaryInstruction = `You are the memory keeper of a companion character.
Compress the conversation into a concise relationship memory while preserving what matters.

Extract and retain:
1. Key events and decisions
2. Facts the user revealed about themselves (name, preferences, habits, important dates)
3. Relationship milestones (first confession, first meeting place, promises)
4. The emotional tone of the window

Output requirements:
- Third-person narration, at most 120 words
- Merge the previous summary with the new conversation
- Facts are short key/value pairs, keys in snake_case
- Return a valid JSON object that matches the output schema
- Do not include any extra keys or text outside the JSON object`

// Generator produces a schema-constrained JSON answer.
type Generator interface {
	GenerateJSON(ctx context.Context, instruction, input string, schema *genai.Schema, out any) error
}

// Store is the persistence the summarizer needs.
type Store interface {
	GetSoulMemory(ctx context.Context, linkID uint) (*types.SoulMemory, error)
	SaveSoulMemory(ctx context.Context, memory types.SoulMemory) error
	ListHistory(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error)
}

// Fact is one key/value detail about the user.
type Fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Summary is the model output for one window.
type Summary struct {
	Summary    string   `json:"summary"`
	Facts      []Fact   `json:"facts,omitempty"`
	Milestones []string `json:"milestones,omitempty"`
	Emotions   []string `json:"emotions,omitempty"`
}

// Summarizer rewrites a link's memory every N turns.
type Summarizer struct {
	gen     Generator
	store   Store
	every   int
	timeout time.Duration
	now     func() time.Time

	inflight singleflight.Group
}

// NewSummarizer creates a Summarizer. every <= 0 disables scheduling.
func NewSummarizer(gen Generator, store Store, every int) *Summarizer {
	return &Summarizer{
		gen:     gen,
		store:   store,
		every:   every,
		timeout: time.Minute,
		now:     time.Now,
	}
}

// Due reports whether the link just completed a summary window.
func (s *Summarizer) Due(link *types.LinkState) bool {
	if s == nil || s.gen == nil || s.every <= 0 || link == nil {
		return false
	}
	return link.TotalMessagesSent > 0 && link.TotalMessagesSent%s.every == 0
}

// Get returns the link's memory, or nil when none has been written yet.
func (s *Summarizer) Get(ctx context.Context, linkID uint) (*types.SoulMemory, error) {
	mem, err := s.store.GetSoulMemory(ctx, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return mem, nil
}

// Schedule summarizes in the background when the link is due. Concurrent
// calls for the same link collapse into one run.
func (s *Summarizer) Schedule(link types.LinkState) {
	if !s.Due(&link) {
		return
	}
	key := strconv.FormatUint(uint64(link.ID), 10)
	go func() {
		_, err, _ := s.inflight.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			return nil, s.Summarize(ctx, &link)
		})
		if err != nil {
			slog.Warn("memory summary failed", "user_id", link.UserID, "soul_id", link.SoulID, "error", err)
		}
	}()
}

// Summarize merges the latest window into the stored memory.
func (s *Summarizer) Summarize(ctx context.Context, link *types.LinkState) error {
	prev, err := s.Get(ctx, link.ID)
	if err != nil {
		return err
	}
	limit := 2 * s.every
	if limit <= 0 {
		limit = 40
	}
	history, err := s.store.ListHistory(ctx, link.UserID, link.SoulID, limit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	var out Summary
	if err := s.gen.GenerateJSON(ctx, summaryInstruction, buildInput(prev, history), summaryOutputSchema(), &out); err != nil {
		return fmt.Errorf("failed to generate summary: %w", err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return errors.New("empty summary response")
	}

	mem := types.SoulMemory{
		LinkStateID: link.ID,
		UserID:      link.UserID,
		SoulID:      link.SoulID,
		Summary:     out.Summary,
		Facts:       map[string]string{},
		UpdatedAt:   s.now().UTC(),
	}
	if prev != nil {
		for k, v := range prev.Facts {
			mem.Facts[k] = v
		}
		mem.Milestones = slices.Clone(prev.Milestones)
	}
	for _, f := range out.Facts {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		mem.Facts[key] = strings.TrimSpace(f.Value)
	}
	if ComputeSalience(out, link) >= MilestoneSalience {
		mem.Milestones = mergeMilestones(mem.Milestones, out.Milestones)
	}

	if err := s.store.SaveSoulMemory(ctx, mem); err != nil {
		return err
	}
	slog.Info("memory summarized", "user_id", link.UserID, "soul_id", link.SoulID,
		"facts", len(mem.Facts), "milestones", len(mem.Milestones))
	return nil
}

func mergeMilestones(existing, fresh []string) []string {
	for _, m := range fresh {
		m = strings.TrimSpace(m)
		if m == "" || slices.Contains(existing, m) {
			continue
		}
		existing = append(existing, m)
	}
	if len(existing) > MaxMilestones {
		existing = existing[len(existing)-MaxMilestones:]
	}
	return existing
}

func buildInput(prev *types.SoulMemory, history []types.Message) string {
	var sb strings.Builder
	if prev != nil && prev.Summary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(prev.Summary)
		sb.WriteString("\n\n")
	}
	if prev != nil && len(prev.Facts) > 0 {
		keys := make([]string, 0, len(prev.Facts))
		for k := range prev.Facts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		sb.WriteString("Known facts:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, prev.Facts[k])
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Conversation:\n")
	for _, m := range history {
		speaker := "User"
		switch {
		case m.IsChronicle():
			speaker = "Narrator"
		case m.Role == types.RoleAssistant:
			speaker = "Soul"
		case m.Role == types.RoleSystem:
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	return sb.String()
}

func summaryOutputSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type: genai.TypeString,
			},
			"facts": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"key":   {Type: genai.TypeString},
						"value": {Type: genai.TypeString},
					},
					Required: []string{"key", "value"},
				},
			},
			"milestones": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"emotions": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"summary"},
	}
}
