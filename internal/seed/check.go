package seed

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// Minimum row counts expected after a full seed.
const (
	MinSouls     = 9
	MinLocations = 30
)

// CheckStore is what Check reads.
type CheckStore interface {
	ListSouls(ctx context.Context) ([]types.Soul, error)
	ListLocations(ctx context.Context) ([]types.Location, error)
	GetDefinition(ctx context.Context, soulID string) (*types.SoulDefinition, error)
	ListSoulStates(ctx context.Context, soulIDs []string) (map[string]types.SoulState, error)
}

// Report summarizes a post-seed sanity check.
type Report struct {
	Souls              int      `json:"souls"`
	Locations          int      `json:"locations"`
	PrivateLocations   int      `json:"private_locations"`
	PublicLocations    int      `json:"public_locations"`
	MissingDefinitions []string `json:"missing_definitions,omitempty"`
	MissingStates      []string `json:"missing_states,omitempty"`
	DanglingLocations  []string `json:"dangling_locations,omitempty"`
	EmptyTiers         []string `json:"empty_tiers,omitempty"`
	ArchitectMissing   []string `json:"architect_missing,omitempty"`
	minSouls           int
	minLocations       int
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	return r.Souls >= r.minSouls && r.Locations >= r.minLocations &&
		len(r.MissingDefinitions) == 0 && len(r.MissingStates) == 0 &&
		len(r.DanglingLocations) == 0 && len(r.EmptyTiers) == 0 && len(r.ArchitectMissing) == 0
}

// CheckOptions tunes Check.
type CheckOptions struct {
	MinSouls     int
	MinLocations int
	// ArchitectID, when set, must appear in every soul's allow-list.
	ArchitectID string
}

// Check verifies row counts and that every soul has a definition, a live
// state pointing at a known location, and tier behaviour.
func Check(ctx context.Context, store CheckStore, opts CheckOptions) (Report, error) {
	report := Report{minSouls: opts.MinSouls, minLocations: opts.MinLocations}

	locations, err := store.ListLocations(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list locations: %w", err)
	}
	known := make(map[string]bool, len(locations))
	for _, loc := range locations {
		known[loc.ID] = true
		switch loc.SystemModifiers.PrivacyGate {
		case types.PrivacyPrivate:
			report.PrivateLocations++
		case types.PrivacyPublic:
			report.PublicLocations++
		}
	}
	report.Locations = len(locations)

	souls, err := store.ListSouls(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list souls: %w", err)
	}
	report.Souls = len(souls)

	ids := make([]string, 0, len(souls))
	for _, s := range souls {
		ids = append(ids, s.ID)
	}
	states, err := store.ListSoulStates(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("failed to list soul states: %w", err)
	}

	for _, id := range ids {
		state, ok := states[id]
		switch {
		case !ok:
			report.MissingStates = append(report.MissingStates, id)
		case !known[state.CurrentLocationID]:
			report.DanglingLocations = append(report.DanglingLocations, id)
		}

		def, err := store.GetDefinition(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			report.MissingDefinitions = append(report.MissingDefinitions, id)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to load definition for %s: %w", id, err)
		}
		if len(def.Interaction.IntimacyTiers) == 0 {
			report.EmptyTiers = append(report.EmptyTiers, id)
		}
		if opts.ArchitectID != "" && !slices.Contains(def.Meta.DevConfig.ArchitectIDs, opts.ArchitectID) {
			report.ArchitectMissing = append(report.ArchitectMissing, id)
		}
	}
	return report, nil
}
