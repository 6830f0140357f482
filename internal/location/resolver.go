// Package location resolves where souls are and serves the world map.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easeaico/soullink/internal/cache"
	"github.com/easeaico/soullink/internal/routine"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

// DefaultLocation is where a soul is when nothing else resolves.
const DefaultLocation = "soul_plaza"

// WorldStatePrefix prefixes every cached world-state key.
const WorldStatePrefix = "world:state:"

// Store is the persistence the resolver reads.
type Store interface {
	GetLink(ctx context.Context, userID, soulID string) (*types.LinkState, error)
	GetRoutine(ctx context.Context, soulID string) (*types.Routine, error)
	GetSoulState(ctx context.Context, soulID string) (*types.SoulState, error)
	ListSouls(ctx context.Context) ([]types.Soul, error)
	ListRoutines(ctx context.Context, soulIDs []string) (map[string]types.Routine, error)
	ListSoulStates(ctx context.Context, soulIDs []string) (map[string]types.SoulState, error)
	UpdateSoulLocation(ctx context.Context, soulID, locationID string) error
}

// Resolver applies the location priority chain:
// link override, routine overrides, routine template, live state, default.
type Resolver struct {
	store   Store
	library *routine.Library
	world   *cache.TTL[map[string]string]
	now     func() time.Time
}

// NewResolver creates a resolver. world caches resolved maps per slot and day type.
func NewResolver(store Store, library *routine.Library, world *cache.TTL[map[string]string]) *Resolver {
	if world == nil {
		world = cache.New[map[string]string](time.Hour, 0)
	}
	return &Resolver{store: store, library: library, world: world, now: time.Now}
}

// WithClock replaces the time source used for day-type selection.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the effective location of soulID. userID may be empty for
// the global view.
func (r *Resolver) Resolve(ctx context.Context, userID, soulID string, slot types.TimeSlot) (string, error) {
	if userID != "" {
		link, err := r.store.GetLink(ctx, userID, soulID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		if link != nil && link.CurrentLocation != nil && *link.CurrentLocation != "" {
			return *link.CurrentLocation, nil
		}
	}

	rt, err := r.store.GetRoutine(ctx, soulID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	if rt != nil {
		if loc, ok := r.fromRoutine(*rt, routine.DayTypeFor(r.now()), slot); ok {
			return loc, nil
		}
	}

	state, err := r.store.GetSoulState(ctx, soulID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	if state != nil && state.CurrentLocationID != "" {
		return state.CurrentLocationID, nil
	}
	return DefaultLocation, nil
}

// ResolveBulk resolves the global location of many souls with two queries.
func (r *Resolver) ResolveBulk(ctx context.Context, soulIDs []string, slot types.TimeSlot) (map[string]string, error) {
	routines, err := r.store.ListRoutines(ctx, soulIDs)
	if err != nil {
		return nil, err
	}
	states, err := r.store.ListSoulStates(ctx, soulIDs)
	if err != nil {
		return nil, err
	}

	day := routine.DayTypeFor(r.now())
	result := make(map[string]string, len(soulIDs))
	for _, id := range soulIDs {
		if rt, ok := routines[id]; ok {
			if loc, ok := r.fromRoutine(rt, day, slot); ok {
				result[id] = loc
				continue
			}
		}
		if st, ok := states[id]; ok && st.CurrentLocationID != "" {
			result[id] = st.CurrentLocationID
			continue
		}
		result[id] = DefaultLocation
	}
	return result, nil
}

// WorldState returns the cached global map for slot, keyed by soul id.
func (r *Resolver) WorldState(ctx context.Context, slot types.TimeSlot) (map[string]string, error) {
	key := WorldStateKey(slot, routine.DayTypeFor(r.now()))
	return r.world.GetOrLoad(key, func() (map[string]string, error) {
		souls, err := r.store.ListSouls(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(souls))
		for _, s := range souls {
			ids = append(ids, s.ID)
		}
		return r.ResolveBulk(ctx, ids, slot)
	})
}

// Warm fills the world-state cache for every slot of the current day type.
func (r *Resolver) Warm(ctx context.Context) error {
	for _, slot := range types.TimeSlots {
		if _, err := r.WorldState(ctx, slot); err != nil {
			return fmt.Errorf("failed to warm world state for %s: %w", slot, err)
		}
	}
	slog.Info("world state cache warmed", "slots", len(types.TimeSlots), "entries", r.world.Len())
	return nil
}

// UpdateGlobal moves a soul in the shared live state and drops every cached
// world map. Link states are never touched.
func (r *Resolver) UpdateGlobal(ctx context.Context, soulID, locationID string) error {
	if err := r.store.UpdateSoulLocation(ctx, soulID, locationID); err != nil {
		return err
	}
	removed := r.world.DeletePrefix(WorldStatePrefix)
	slog.Debug("world state invalidated", "soul_id", soulID, "location_id", locationID, "removed", removed)
	return nil
}

// InvalidateSlot drops the cached world maps of one slot.
func (r *Resolver) InvalidateSlot(slot types.TimeSlot) {
	r.world.DeletePrefix(WorldStatePrefix + string(slot) + ":")
}

// CacheLen reports the number of cached world maps.
func (r *Resolver) CacheLen() int {
	return r.world.Len()
}

// WorldStateKey builds the cache key of one world map.
func WorldStateKey(slot types.TimeSlot, day types.DayType) string {
	return WorldStatePrefix + string(slot) + ":" + string(day)
}

func (r *Resolver) fromRoutine(rt types.Routine, day types.DayType, slot types.TimeSlot) (string, bool) {
	if override, ok := rt.ScheduleOverrides[string(day)][string(slot)]; ok && override != "" {
		if loc, ok := r.overrideLocation(rt, override); ok {
			return loc, true
		}
	}
	zone, ok := r.library.Zone(rt.TemplateID, day, slot)
	if !ok {
		return "", false
	}
	return zoneLocation(rt.LocationPreferences, zone)
}

// overrideLocation interprets a schedule override. Known ids and anything
// containing an underscore are concrete location ids; other values are zone
// keys.
func (r *Resolver) overrideLocation(rt types.Routine, value string) (string, bool) {
	if r.library.IsKnownLocation(value) || strings.Contains(value, "_") {
		return value, true
	}
	return zoneLocation(rt.LocationPreferences, value)
}

// zoneLocation maps a zone key through the preference table. Keys are stored
// with a "_zone" suffix; templates use the bare name.
func zoneLocation(prefs map[string]string, zone string) (string, bool) {
	if loc, ok := prefs[zone]; ok && loc != "" {
		return loc, true
	}
	if loc, ok := prefs[zone+"_zone"]; ok && loc != "" {
		return loc, true
	}
	return "", false
}
