// Package routine loads the routine template library used to place souls on
// the city map by time of day.
package routine

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/easeaico/soullink/internal/types"
)

//go:embed templates.toml
var defaultTemplates []byte

// Template is one named weekday/weekend schedule of zone keys.
type Template struct {
	Weekday map[string]string `toml:"weekday"`
	Weekend map[string]string `toml:"weekend"`
}

// Library is the set of routine templates plus the location allow-list.
// It is loaded once per process and read-only afterwards.
type Library struct {
	KnownLocations []string            `toml:"known_locations"`
	Templates      map[string]Template `toml:"templates"`
}

// Load reads the library from path, or the embedded default when path is empty.
func Load(path string) (*Library, error) {
	if path == "" {
		return Parse(defaultTemplates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routine templates: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded library.
func Default() *Library {
	lib, err := Parse(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("embedded routine templates are invalid: %v", err))
	}
	return lib
}

// Parse decodes and validates a TOML library.
func Parse(data []byte) (*Library, error) {
	var lib Library
	if _, err := toml.Decode(string(data), &lib); err != nil {
		return nil, fmt.Errorf("failed to parse routine templates: %w", err)
	}
	for id, tpl := range lib.Templates {
		for _, half := range []map[string]string{tpl.Weekday, tpl.Weekend} {
			for slot := range half {
				if !types.TimeSlot(slot).Valid() {
					return nil, fmt.Errorf("template %s: unknown time slot %q", id, slot)
				}
			}
		}
	}
	sort.Strings(lib.KnownLocations)
	return &lib, nil
}

// Zone returns the zone key for a template at a day type and slot.
func (l *Library) Zone(templateID string, day types.DayType, slot types.TimeSlot) (string, bool) {
	if l == nil {
		return "", false
	}
	tpl, ok := l.Templates[templateID]
	if !ok {
		return "", false
	}
	half := tpl.Weekday
	if day == types.Weekend {
		half = tpl.Weekend
	}
	zone, ok := half[string(slot)]
	return zone, ok && zone != ""
}

// Has reports whether a template exists.
func (l *Library) Has(templateID string) bool {
	if l == nil {
		return false
	}
	_, ok := l.Templates[templateID]
	return ok
}

// IsKnownLocation reports whether id is on the location allow-list.
func (l *Library) IsKnownLocation(id string) bool {
	if l == nil {
		return false
	}
	_, found := slices.BinarySearch(l.KnownLocations, id)
	return found
}

// DayTypeFor classifies t (in UTC) as weekday or weekend.
func DayTypeFor(t time.Time) types.DayType {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return types.Weekend
	default:
		return types.Weekday
	}
}
