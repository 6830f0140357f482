package memory

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

type fakeGenerator struct {
	out    Summary
	err    error
	inputs []string
}

func (g *fakeGenerator) GenerateJSON(ctx context.Context, instruction, input string, schema *genai.Schema, out any) error {
	g.inputs = append(g.inputs, input)
	if g.err != nil {
		return g.err
	}
	raw, err := json.Marshal(g.out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func setup(t *testing.T) (*storage.Store, *types.LinkState) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewStore(ctx, "sqlite:"+filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	link, _, err := store.CreateLink(ctx, types.LinkState{
		UserID: "u1", SoulID: "kira", CurrentMood: "neutral", IntimacyTier: types.TierStranger,
		SignalStability: 100, MaskIntegrity: 1, LastStabilityDecay: now, CreatedAt: now, LastInteraction: now,
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	_, err = store.CommitTurn(ctx, storage.TurnUpdate{
		LinkID: link.ID, ExpectedLastInteraction: now, IntimacyDelta: 1, Now: now.Add(time.Minute),
	}, []types.Message{
		{UserID: "u1", SoulID: "kira", Role: types.RoleSystem, Content: "It has been 5 hours.", Meta: map[string]any{"flag": types.MetaFlagChronicle}, CreatedAt: now.Add(time.Second)},
		{UserID: "u1", SoulID: "kira", Role: types.RoleUser, Content: "My name is Sam.", CreatedAt: now.Add(2 * time.Second)},
		{UserID: "u1", SoulID: "kira", Role: types.RoleAssistant, Content: "*smiles* Nice to meet you, Sam.", CreatedAt: now.Add(3 * time.Second)},
	})
	if err != nil {
		t.Fatalf("commit turn: %v", err)
	}
	link, err = store.GetLink(ctx, "u1", "kira")
	if err != nil {
		t.Fatalf("reload link: %v", err)
	}
	return store, link
}

func TestDue(t *testing.T) {
	s := NewSummarizer(&fakeGenerator{}, nil, 20)
	cases := []struct {
		sent int
		want bool
	}{{0, false}, {19, false}, {20, true}, {40, true}, {41, false}}
	for _, c := range cases {
		if got := s.Due(&types.LinkState{TotalMessagesSent: c.sent}); got != c.want {
			t.Fatalf("Due(%d)=%v, want %v", c.sent, got, c.want)
		}
	}
	if NewSummarizer(&fakeGenerator{}, nil, 0).Due(&types.LinkState{TotalMessagesSent: 20}) {
		t.Fatalf("every=0 must disable summaries")
	}
	if NewSummarizer(nil, nil, 20).Due(&types.LinkState{TotalMessagesSent: 20}) {
		t.Fatalf("missing generator must disable summaries")
	}
}

func TestSummarizeMergesFactsAndMilestones(t *testing.T) {
	store, link := setup(t)
	ctx := context.Background()
	gen := &fakeGenerator{out: Summary{
		Summary:    "Sam introduced themself to Kira at the cafe.",
		Facts:      []Fact{{Key: "name", Value: "Sam"}, {Key: " ", Value: "ignored"}},
		Milestones: []string{"First meeting"},
		Emotions:   []string{"curious"},
	}}
	s := NewSummarizer(gen, store, 1)

	// The link starts with an empty memory row.
	if mem, err := s.Get(ctx, link.ID); err != nil || mem == nil || mem.Summary != "" || len(mem.Facts) != 0 {
		t.Fatalf("expected empty memory before the first summary, got %+v %v", mem, err)
	}
	if err := s.Summarize(ctx, link); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	input := gen.inputs[0]
	if !strings.Contains(input, "User: My name is Sam.") || !strings.Contains(input, "Soul: *smiles*") || !strings.Contains(input, "Narrator: It has been 5 hours.") {
		t.Fatalf("unexpected transcript:\n%s", input)
	}

	gen.out = Summary{
		Summary:    "Sam and Kira met again.",
		Facts:      []Fact{{Key: "drink", Value: "oat latte"}},
		Milestones: []string{"First meeting", "Shared a secret"},
	}
	if err := s.Summarize(ctx, link); err != nil {
		t.Fatalf("summarize again: %v", err)
	}
	if !strings.Contains(gen.inputs[1], "Previous summary:\nSam introduced themself") || !strings.Contains(gen.inputs[1], "- name: Sam") {
		t.Fatalf("second window must carry the previous memory:\n%s", gen.inputs[1])
	}

	mem, err := s.Get(ctx, link.ID)
	if err != nil || mem == nil {
		t.Fatalf("get memory: %+v %v", mem, err)
	}
	if mem.Summary != "Sam and Kira met again." {
		t.Fatalf("summary must be replaced, got %q", mem.Summary)
	}
	if mem.Facts["name"] != "Sam" || mem.Facts["drink"] != "oat latte" || len(mem.Facts) != 2 {
		t.Fatalf("facts must merge: %v", mem.Facts)
	}
	if len(mem.Milestones) != 2 || mem.Milestones[1] != "Shared a secret" {
		t.Fatalf("milestones must dedupe and append: %v", mem.Milestones)
	}
}

func TestSummarizeDropsLowSalienceMilestones(t *testing.T) {
	store, link := setup(t)
	ctx := context.Background()
	gen := &fakeGenerator{out: Summary{Summary: "Small talk.", Milestones: []string{"Talked"}}}
	link.IntimacyScore = 50
	if err := NewSummarizer(gen, store, 1).Summarize(ctx, link); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	mem, err := store.GetSoulMemory(ctx, link.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if len(mem.Milestones) != 0 {
		t.Fatalf("low salience window must not add milestones: %v", mem.Milestones)
	}
}

func TestSummarizeErrors(t *testing.T) {
	store, link := setup(t)
	ctx := context.Background()

	failing := &fakeGenerator{err: errors.New("quota")}
	if err := NewSummarizer(failing, store, 1).Summarize(ctx, link); err == nil {
		t.Fatalf("expected generator error")
	}
	empty := &fakeGenerator{out: Summary{Summary: "  "}}
	if err := NewSummarizer(empty, store, 1).Summarize(ctx, link); err == nil {
		t.Fatalf("expected empty summary error")
	}
	mem, err := store.GetSoulMemory(ctx, link.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if mem.Summary != "" || len(mem.Facts) != 0 || len(mem.Milestones) != 0 {
		t.Fatalf("failed runs must leave the memory untouched, got %+v", mem)
	}
}

func TestMergeMilestonesCap(t *testing.T) {
	var existing []string
	for i := 0; i < MaxMilestones; i++ {
		existing = append(existing, string(rune('a'+i)))
	}
	got := mergeMilestones(existing, []string{"new"})
	if len(got) != MaxMilestones || got[len(got)-1] != "new" || got[0] != "b" {
		t.Fatalf("expected oldest milestone evicted, got %v", got)
	}
}

func TestComputeSalience(t *testing.T) {
	rich := Summary{
		Summary:    "x",
		Facts:      []Fact{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}},
		Milestones: []string{"m1", "m2", "m3"},
		Emotions:   []string{"e1", "e2"},
	}
	if got := ComputeSalience(rich, &types.LinkState{CurrentMood: "sad", IntimacyScore: 10}); got != 1 {
		t.Fatalf("expected clamp at 1, got %v", got)
	}
	if got := ComputeSalience(Summary{}, nil); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
