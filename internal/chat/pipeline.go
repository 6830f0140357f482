// Package chat runs a user turn end to end: context, generation, commit and fan-out.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/soullink/internal/chronicle"
	"github.com/easeaico/soullink/internal/emotion"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/models"
	"github.com/easeaico/soullink/internal/prompt"
	"github.com/easeaico/soullink/internal/realtime"
	"github.com/easeaico/soullink/internal/stability"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

const (
	// DefaultTimeout bounds a completion call.
	DefaultTimeout = 30 * time.Second
	// DefaultHistoryLimit is used when a history request names no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a history request.
	MaxHistoryLimit = 200

	temperature = 0.8
	maxTokens   = 600
)

// Store is the read side the pipeline needs. Writes go through linkstate.
type Store interface {
	GetSoul(ctx context.Context, soulID string) (*types.Soul, error)
	GetDefinition(ctx context.Context, soulID string) (*types.SoulDefinition, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetActivePersona(ctx context.Context, userID string) (*types.UserPersona, error)
	GetLocation(ctx context.Context, locationID string) (*types.Location, error)
	GenesisMessage(ctx context.Context, userID, soulID string) (*types.Message, error)
	ListRecentMessages(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error)
	ListHistory(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error)
}

// Locator resolves where a soul is for a user.
type Locator interface {
	Resolve(ctx context.Context, userID, soulID string, slot types.TimeSlot) (string, error)
}

// Notifier pushes real-time events. Delivery is best effort.
type Notifier interface {
	Notify(userID, eventType string, data any) int
}

// MemoryScheduler summarizes a link out of band after a commit.
type MemoryScheduler interface {
	Schedule(link types.LinkState)
}

// Deps wires a Pipeline. Narrator, Emotion, Memory and Notifier are optional.
type Deps struct {
	Store     Store
	Links     *linkstate.Service
	Locator   Locator
	Stability *stability.Engine
	Narrator  *chronicle.Narrator
	Emotion   *emotion.Service
	Model     models.Completer
	Builder   *prompt.Builder
	Memory    MemoryScheduler
	Notifier  Notifier
	Timeout   time.Duration
}

// Request is one user turn.
type Request struct {
	UserID  string
	SoulID  string
	Message string
}

// Response is what the caller sees after a committed turn.
type Response struct {
	SoulID        string         `json:"soul_id"`
	Response      string         `json:"response"`
	Tier          types.Tier     `json:"tier"`
	IntimacyScore int            `json:"intimacy_score"`
	Location      string         `json:"location"`
	IsArchitect   bool           `json:"is_architect"`
	SystemEvent   map[string]any `json:"system_event,omitempty"`
}

// Pipeline is the chat orchestrator.
type Pipeline struct {
	store     Store
	links     *linkstate.Service
	locator   Locator
	stability *stability.Engine
	narrator  *chronicle.Narrator
	emotion   *emotion.Service
	model     models.Completer
	builder   *prompt.Builder
	memory    MemoryScheduler
	notifier  Notifier
	timeout   time.Duration
	now       func() time.Time
	stats     *Stats
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		store:     d.Store,
		links:     d.Links,
		locator:   d.Locator,
		stability: d.Stability,
		narrator:  d.Narrator,
		emotion:   d.Emotion,
		model:     d.Model,
		builder:   d.Builder,
		memory:    d.Memory,
		notifier:  d.Notifier,
		timeout:   d.Timeout,
		now:       time.Now,
		stats:     &Stats{},
	}
	if p.narrator == nil {
		p.narrator = chronicle.NewNarrator(nil, chronicle.DefaultGap, 0)
	}
	if p.emotion == nil {
		p.emotion = emotion.NewService(emotion.NewStateMachine(1), nil)
	}
	if p.builder == nil {
		p.builder = prompt.NewBuilder(prompt.RecentWindow, prompt.MaxMessages)
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p
}

// WithClock replaces the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// turn is the state read before generation.
type turn struct {
	user       *types.User
	persona    *types.UserPersona
	locationID string
	chronicle  string
	messages   []types.ChatTurn
}

// Send runs one turn. Nothing is written unless generation succeeds, and
// every write of the turn lands in one transaction.
func (p *Pipeline) Send(ctx context.Context, req Request) (*Response, error) {
	link, err := p.links.Get(ctx, req.UserID, req.SoulID)
	if err != nil {
		return nil, err
	}
	if err := p.stability.Check(link); err != nil {
		return nil, err
	}

	t, err := p.prepare(ctx, link, req)
	if err != nil {
		return nil, err
	}

	// The generation outlives a client disconnect; only the timeout stops it.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	var (
		reply   string
		flagged bool
		label   = emotion.EmotionNeutral
	)
	g, gctx := errgroup.WithContext(genCtx)
	g.Go(func() error {
		var err error
		reply, flagged, err = p.generate(gctx, t.messages)
		return err
	})
	g.Go(func() error {
		label = p.emotion.Classify(gctx, link, req.Message)
		return nil
	})
	if err := g.Wait(); err != nil {
		p.stats.CompletionErrors.Add(1)
		slog.Error("completion failed", "user_id", req.UserID, "soul_id", req.SoulID, "error", err)
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	result, written, err := p.links.ApplyTurn(context.WithoutCancel(ctx), link, p.turnBuilder(t, req, reply, flagged, label))
	if err != nil {
		if errors.Is(err, linkstate.ErrConflict) {
			p.stats.Conflicts.Add(1)
		}
		return nil, err
	}

	p.stats.Turns.Add(1)
	resp := &Response{
		SoulID:        req.SoulID,
		Response:      reply,
		Tier:          result.Link.IntimacyTier,
		IntimacyScore: result.Link.IntimacyScore,
		Location:      t.locationID,
		IsArchitect:   result.Link.IsArchitect,
	}
	if len(written) > 0 && written[0].IsChronicle() {
		p.stats.Chronicles.Add(1)
		resp.SystemEvent = chronicle.Event(written[0].Content)
	}

	p.publish(link, result, written)
	if p.memory != nil {
		p.memory.Schedule(result.Link)
	}
	return resp, nil
}

// History returns the pair's conversation, oldest first.
func (p *Pipeline) History(ctx context.Context, userID, soulID string, limit int) ([]types.Message, error) {
	if _, err := p.links.Get(ctx, userID, soulID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	return p.store.ListHistory(ctx, userID, soulID, limit)
}

func (p *Pipeline) prepare(ctx context.Context, link *types.LinkState, req Request) (*turn, error) {
	soul, err := p.store.GetSoul(ctx, req.SoulID)
	if err != nil {
		return nil, fmt.Errorf("failed to load soul %s: %w", req.SoulID, err)
	}
	def, err := p.store.GetDefinition(ctx, req.SoulID)
	if err != nil {
		return nil, fmt.Errorf("failed to load soul definition %s: %w", req.SoulID, err)
	}
	user, err := p.store.GetUser(ctx, req.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	persona, err := p.store.GetActivePersona(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	slot := types.SlotMorning
	if user != nil && user.CurrentTimeSlot.Valid() {
		slot = user.CurrentTimeSlot
	}
	locationID, err := p.locator.Resolve(ctx, req.UserID, req.SoulID, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve location: %w", err)
	}
	loc, err := p.store.GetLocation(ctx, locationID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	t := &turn{user: user, persona: persona, locationID: locationID}
	now := p.now()
	if p.narrator.Due(link.LastInteraction, now) {
		place := locationID
		if loc != nil && loc.DisplayName != "" {
			place = loc.DisplayName
		}
		t.chronicle = p.narrator.Narrate(ctx, chronicle.Scene{
			Elapsed:  now.Sub(link.LastInteraction),
			Location: place,
			Weather:  chronicle.WeatherFor(slot),
		})
	}

	in := prompt.Input{
		Soul:        soul,
		Definition:  def,
		Persona:     persona,
		Link:        link,
		Location:    loc,
		IsArchitect: link.IsArchitect,
	}
	if t.chronicle != "" {
		in.WorldState = chronicle.Injection(t.chronicle)
	}
	system, err := prompt.Assemble(in)
	if err != nil {
		return nil, err
	}

	genesis, err := p.store.GenesisMessage(ctx, req.UserID, req.SoulID)
	if err != nil {
		return nil, err
	}
	recent, err := p.store.ListRecentMessages(ctx, req.UserID, req.SoulID, prompt.RecentWindow+1)
	if err != nil {
		return nil, err
	}
	t.messages = p.builder.Build(system, genesis, recent, req.Message)
	return t, nil
}

// generate calls the model, retrying once with the fix directive when the
// reply breaks character. A second refusal is returned flagged.
func (p *Pipeline) generate(ctx context.Context, messages []types.ChatTurn) (string, bool, error) {
	reply, err := p.model.Complete(ctx, models.Request{Messages: messages, Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		return "", false, err
	}
	if !models.IsRefusal(reply) {
		return reply, false, nil
	}

	p.stats.Refusals.Add(1)
	last := len(messages) - 1
	fixed := slices.Insert(slices.Clone(messages), last, types.ChatTurn{Role: types.RoleSystem, Content: models.FixDirective})
	retry, err := p.model.Complete(ctx, models.Request{Messages: fixed, Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		slog.Warn("fix directive retry failed, keeping flagged reply", "error", err)
		return reply, true, nil
	}
	if models.IsRefusal(retry) {
		return retry, true, nil
	}
	return retry, false, nil
}

func (p *Pipeline) turnBuilder(t *turn, req Request, reply string, flagged bool, label emotion.EmotionLabel) linkstate.TurnBuilder {
	return func(cur *types.LinkState) (storage.TurnUpdate, []types.Message, error) {
		// A turn that committed while this one generated may have spent the budget.
		if err := p.stability.Check(cur); err != nil {
			return storage.TurnUpdate{}, nil, err
		}
		at := p.now().UTC().Truncate(time.Microsecond)
		if !at.After(cur.LastInteraction) {
			at = cur.LastInteraction.Add(time.Microsecond)
		}
		outcome := p.emotion.Apply(cur, label)

		var messages []types.Message
		// A racing turn may already have bridged the gap.
		if t.chronicle != "" && p.narrator.Due(cur.LastInteraction, at) {
			messages = append(messages, types.Message{
				UserID:    req.UserID,
				SoulID:    req.SoulID,
				Role:      types.RoleSystem,
				Content:   t.chronicle,
				Meta:      map[string]any{"flag": types.MetaFlagChronicle},
				CreatedAt: at,
			})
		}
		messages = append(messages, types.Message{
			UserID:    req.UserID,
			SoulID:    req.SoulID,
			Role:      types.RoleUser,
			Content:   req.Message,
			CreatedAt: at.Add(time.Duration(len(messages)) * time.Microsecond),
		})
		meta := map[string]any{"link_state_id": cur.ID}
		if t.persona != nil {
			meta["persona_id"] = t.persona.ID
		}
		if flagged {
			meta["refusal_flagged"] = true
		}
		messages = append(messages, types.Message{
			UserID:    req.UserID,
			SoulID:    req.SoulID,
			Role:      types.RoleAssistant,
			Content:   reply,
			Meta:      meta,
			CreatedAt: at.Add(time.Duration(len(messages)) * time.Microsecond),
		})

		update := storage.TurnUpdate{
			IntimacyDelta:  outcome.IntimacyDelta,
			StabilityDecay: p.stability.DecayFor(cur, t.user, at),
			Mood:           outcome.State.CurrentMood,
			Flags:          outcome.Flags(),
			Now:            at,
		}
		return update, messages, nil
	}
}

func (p *Pipeline) publish(before *types.LinkState, result *storage.TurnResult, written []types.Message) {
	if p.notifier == nil {
		return
	}
	after := result.Link
	if linkstate.TierChanged(result) {
		p.notifier.Notify(after.UserID, realtime.EventTierChange, map[string]any{
			"soul_id":        after.SoulID,
			"previous_tier":  result.PrevTier,
			"new_tier":       after.IntimacyTier,
			"intimacy_score": after.IntimacyScore,
		})
		slog.Info("tier changed", "user_id", after.UserID, "soul_id", after.SoulID,
			"from", result.PrevTier, "to", after.IntimacyTier)
	}
	p.notifier.Notify(after.UserID, realtime.EventIntimacyUpdate, map[string]any{
		"soul_id":          after.SoulID,
		"intimacy_score":   after.IntimacyScore,
		"tier":             after.IntimacyTier,
		"mood":             after.CurrentMood,
		"signal_stability": after.SignalStability,
	})
	if n := len(written); n > 0 {
		last := written[n-1]
		p.notifier.Notify(after.UserID, realtime.EventChatMessage, map[string]any{
			"soul_id":    after.SoulID,
			"message_id": last.ID,
			"content":    last.Content,
		})
	}
	warn := p.stability.Config().WarningThreshold
	if !after.IsArchitect && before.SignalStability >= warn && after.SignalStability < warn {
		p.notifier.Notify(after.UserID, realtime.EventSystemNotification, map[string]any{
			"soul_id":          after.SoulID,
			"signal_stability": after.SignalStability,
			"message":          "Signal unstable. Restore the link before it drops.",
		})
	}
}
