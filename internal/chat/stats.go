package chat

import "sync/atomic"

// Stats counts pipeline outcomes for the metrics endpoint.
type Stats struct {
	Turns            atomic.Int64
	Chronicles       atomic.Int64
	Refusals         atomic.Int64
	CompletionErrors atomic.Int64
	Conflicts        atomic.Int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"chat_turns":        s.Turns.Load(),
		"chronicles":        s.Chronicles.Load(),
		"refusals":          s.Refusals.Load(),
		"completion_errors": s.CompletionErrors.Load(),
		"turn_conflicts":    s.Conflicts.Load(),
	}
}
