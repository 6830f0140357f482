package prompt

import (
	"github.com/easeaico/soullink/internal/types"
)

const (
	// RecentWindow is how many recent messages follow the genesis message.
	RecentWindow = 5
	// MaxMessages caps the full list, system prompt included.
	MaxMessages = 12
)

// Builder assembles the message list sent to the completion model.
type Builder struct {
	recentWindow int
	maxMessages  int
}

// NewBuilder creates a Builder. Non-positive values select the defaults.
func NewBuilder(recentWindow, maxMessages int) *Builder {
	if recentWindow <= 0 {
		recentWindow = RecentWindow
	}
	if maxMessages <= 0 {
		maxMessages = MaxMessages
	}
	return &Builder{recentWindow: recentWindow, maxMessages: maxMessages}
}

// Build returns system, genesis, the most recent history without the genesis
// duplicate, and the new user turn, in that order. Chronicle rows are never
// replayed.
func (b *Builder) Build(system string, genesis *types.Message, recent []types.Message, userMessage string) []types.ChatTurn {
	turns := []types.ChatTurn{{Role: types.RoleSystem, Content: system}}

	if genesis != nil && genesis.Role != types.RoleSystem {
		turns = append(turns, types.ChatTurn{Role: genesis.Role, Content: genesis.Content})
	}

	var window []types.Message
	for _, m := range recent {
		if m.Role == types.RoleSystem || m.IsChronicle() {
			continue
		}
		if genesis != nil && m.ID != "" && m.ID == genesis.ID {
			continue
		}
		window = append(window, m)
	}
	if len(window) > b.recentWindow {
		window = window[len(window)-b.recentWindow:]
	}
	for _, m := range window {
		turns = append(turns, types.ChatTurn{Role: m.Role, Content: m.Content})
	}

	turns = append(turns, types.ChatTurn{Role: types.RoleUser, Content: userMessage})

	// Drop the oldest history entries, never the system prompt or the new turn.
	if excess := len(turns) - b.maxMessages; excess > 0 {
		trimmed := make([]types.ChatTurn, 0, b.maxMessages)
		trimmed = append(trimmed, turns[0])
		trimmed = append(trimmed, turns[1+excess:]...)
		turns = trimmed
	}
	return turns
}
