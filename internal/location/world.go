package location

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/easeaico/soullink/internal/gatekeeper"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// HiddenSoulID is the internal architect persona. It is never listed publicly.
const HiddenSoulID = "the_architect_01"

// ErrUnknownLocation is returned for a destination that does not exist.
var ErrUnknownLocation = errors.New("unknown location")

// MapStore is the persistence the world map reads and writes.
type MapStore interface {
	ListLocations(ctx context.Context) ([]types.Location, error)
	ListSouls(ctx context.Context) ([]types.Soul, error)
	ListLocationOverrides(ctx context.Context, userID string) (map[string]string, error)
	GetLocation(ctx context.Context, locationID string) (*types.Location, error)
	GetLink(ctx context.Context, userID, soulID string) (*types.LinkState, error)
	SetLinkLocation(ctx context.Context, userID, soulID, locationID string) error
}

// PresentSoul is a soul shown on a map tile.
type PresentSoul struct {
	SoulID      string `json:"soul_id"`
	Name        string `json:"name"`
	PortraitURL string `json:"portrait_url,omitempty"`
}

// LocationView is one map tile with the souls present for the caller.
type LocationView struct {
	types.Location
	PresentSouls []PresentSoul `json:"present_souls"`
}

// World serves the per-user map and user-scoped moves.
type World struct {
	store    MapStore
	resolver *Resolver
}

// NewWorld creates a World.
func NewWorld(store MapStore, resolver *Resolver) *World {
	return &World{store: store, resolver: resolver}
}

// SoulLocations returns soul_id -> location for the caller: the cached global
// map with the caller's private overrides layered on top.
func (w *World) SoulLocations(ctx context.Context, userID string, slot types.TimeSlot) (map[string]string, error) {
	global, err := w.resolver.WorldState(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve world state: %w", err)
	}
	result := maps.Clone(global)
	if result == nil {
		result = make(map[string]string)
	}
	if userID == "" {
		return result, nil
	}
	overrides, err := w.store.ListLocationOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	for soulID, loc := range overrides {
		result[soulID] = loc
	}
	return result, nil
}

// Locations returns every location with the souls the caller sees there.
func (w *World) Locations(ctx context.Context, userID string, slot types.TimeSlot) ([]LocationView, error) {
	locations, err := w.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	souls, err := w.store.ListSouls(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := w.SoulLocations(ctx, userID, slot)
	if err != nil {
		return nil, err
	}

	present := make(map[string][]PresentSoul)
	for _, s := range souls {
		if s.ID == HiddenSoulID {
			continue
		}
		loc, ok := positions[s.ID]
		if !ok {
			continue
		}
		present[loc] = append(present[loc], PresentSoul{SoulID: s.ID, Name: s.Name, PortraitURL: s.PortraitURL})
	}

	views := make([]LocationView, 0, len(locations))
	for _, loc := range locations {
		here := present[loc.ID]
		sort.Slice(here, func(i, j int) bool { return here[i].SoulID < here[j].SoulID })
		if here == nil {
			here = []PresentSoul{}
		}
		views = append(views, LocationView{Location: loc, PresentSouls: here})
	}
	return views, nil
}

// Move relocates a soul for the caller only. The shared live state and the
// world cache are untouched.
func (w *World) Move(ctx context.Context, userID, soulID, target string) (*types.Location, string, error) {
	loc, err := w.store.GetLocation(ctx, target)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrUnknownLocation
		}
		return nil, "", err
	}
	link, err := w.store.GetLink(ctx, userID, soulID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, "", err
	}
	if ok, reason := gatekeeper.CanMove(link, loc); !ok {
		return nil, "", gatekeeper.Deny("%s", reason)
	}
	if err := w.store.SetLinkLocation(ctx, userID, soulID, loc.ID); err != nil {
		return nil, "", fmt.Errorf("failed to move soul: %w", err)
	}
	return loc, fmt.Sprintf("Synchronized. Welcome to %s.", loc.DisplayName), nil
}
