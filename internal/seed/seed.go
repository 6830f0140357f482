// Package seed loads soul and location definitions from JSON files and writes
// them to the store.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/easeaico/soullink/internal/types"
)

const (
	// DefaultVersion is stamped on souls that do not declare one.
	DefaultVersion = "1.5.6"
	// DefaultLocation is where a soul starts when its file names none.
	DefaultLocation = "soul_plaza"

	maxSummaryRunes = 500
)

// Store is the persistence the seeder writes to.
type Store interface {
	UpsertLocation(ctx context.Context, loc types.Location) error
	UpsertSoul(ctx context.Context, soul types.Soul, def types.SoulDefinition, initialLocation string) error
}

// SoulFile is the on-disk shape of one soul.
type SoulFile struct {
	SoulID          string               `json:"soul_id"`
	Name            string               `json:"name"`
	Summary         string               `json:"summary"`
	PortraitURL     string               `json:"portrait_url"`
	Archetype       string               `json:"archetype"`
	Version         string               `json:"version"`
	InitialLocation string               `json:"initial_location"`
	Definition      types.SoulDefinition `json:"definition"`
}

// Bundle is a validated set of seed files.
type Bundle struct {
	Locations []types.Location
	Souls     []SoulFile
}

// FileError ties a validation or decode failure to its file.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Load reads locations/*.json and souls/*.json from fsys, skipping files whose
// name starts with an underscore. Every file is validated against its schema;
// all failures are reported together.
func Load(fsys fs.FS) (*Bundle, error) {
	sc, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	var (
		bundle Bundle
		errs   []error
	)

	locFiles, err := seedFiles(fsys, "locations")
	if err != nil {
		return nil, err
	}
	for _, name := range locFiles {
		var loc types.Location
		if err := decodeFile(fsys, name, sc.location.Validate, &loc); err != nil {
			errs = append(errs, &FileError{File: name, Err: err})
			continue
		}
		bundle.Locations = append(bundle.Locations, loc)
	}

	soulFiles, err := seedFiles(fsys, "souls")
	if err != nil {
		return nil, err
	}
	for _, name := range soulFiles {
		var soul SoulFile
		if err := decodeFile(fsys, name, sc.soul.Validate, &soul); err != nil {
			errs = append(errs, &FileError{File: name, Err: err})
			continue
		}
		bundle.Souls = append(bundle.Souls, soul)
	}

	errs = append(errs, bundle.crossCheck()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &bundle, nil
}

func seedFiles(fsys fs.FS, dir string) ([]string, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if !strings.HasPrefix(path.Base(m), "_") {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(fsys fs.FS, name string, validate func(any) error, target any) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validate(instance); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

// crossCheck catches references a per-file schema cannot see.
func (b *Bundle) crossCheck() []error {
	var errs []error
	locations := make(map[string]bool, len(b.Locations))
	for _, loc := range b.Locations {
		if locations[loc.ID] {
			errs = append(errs, fmt.Errorf("duplicate location %q", loc.ID))
		}
		locations[loc.ID] = true
	}
	souls := make(map[string]bool, len(b.Souls))
	for _, s := range b.Souls {
		if souls[s.SoulID] {
			errs = append(errs, fmt.Errorf("duplicate soul %q", s.SoulID))
		}
		souls[s.SoulID] = true
		if s.InitialLocation != "" && len(b.Locations) > 0 && !locations[s.InitialLocation] {
			errs = append(errs, fmt.Errorf("soul %q starts at unknown location %q", s.SoulID, s.InitialLocation))
		}
	}
	return errs
}

// Result counts what an Apply run wrote.
type Result struct {
	Locations int
	Souls     int
	Failed    int
}

// Seeder writes a Bundle to the store.
type Seeder struct {
	store       Store
	architectID string
	dryRun      bool
}

// NewSeeder creates a Seeder. A non-empty architectID is added to every
// soul's architect allow-list.
func NewSeeder(store Store, architectID string) *Seeder {
	return &Seeder{store: store, architectID: architectID}
}

// DryRun makes Apply log what it would write without writing.
func (s *Seeder) DryRun(enabled bool) *Seeder {
	s.dryRun = enabled
	return s
}

// Apply upserts locations first, then souls. A failing entry is logged and
// counted; the rest of the bundle is still written.
func (s *Seeder) Apply(ctx context.Context, bundle *Bundle) (Result, error) {
	var res Result
	for _, loc := range bundle.Locations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.dryRun {
			slog.Info("seed preview", "location_id", loc.ID, "display_name", loc.DisplayName, "privacy_gate", loc.SystemModifiers.PrivacyGate)
			res.Locations++
			continue
		}
		if err := s.store.UpsertLocation(ctx, loc); err != nil {
			slog.Error("failed to seed location", "location_id", loc.ID, "error", err)
			res.Failed++
			continue
		}
		res.Locations++
	}

	for _, file := range bundle.Souls {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		soul, def, initial := s.prepare(file)
		if s.dryRun {
			slog.Info("seed preview", "soul_id", soul.ID, "name", soul.Name, "archetype", soul.Archetype)
			res.Souls++
			continue
		}
		if err := s.store.UpsertSoul(ctx, soul, def, initial); err != nil {
			slog.Error("failed to seed soul", "soul_id", soul.ID, "error", err)
			res.Failed++
			continue
		}
		res.Souls++
	}

	slog.Info("seed finished", "locations", res.Locations, "souls", res.Souls, "failed", res.Failed, "dry_run", s.dryRun)
	if res.Failed > 0 {
		return res, fmt.Errorf("%d seed entries failed", res.Failed)
	}
	return res, nil
}

func (s *Seeder) prepare(file SoulFile) (types.Soul, types.SoulDefinition, string) {
	soul := types.Soul{
		ID:          file.SoulID,
		Name:        file.Name,
		Summary:     truncateRunes(file.Summary, maxSummaryRunes),
		PortraitURL: file.PortraitURL,
		Archetype:   file.Archetype,
		Version:     file.Version,
	}
	if soul.Summary == "" {
		soul.Summary = "A mysterious soul..."
	}
	if soul.PortraitURL == "" {
		soul.PortraitURL = "/assets/images/souls/" + file.SoulID + "_01.jpeg"
	}
	if soul.Version == "" {
		soul.Version = DefaultVersion
	}

	def := file.Definition
	def.SoulID = file.SoulID
	ids := slices.Clone(def.Meta.DevConfig.ArchitectIDs)
	if s.architectID != "" && !slices.Contains(ids, s.architectID) {
		ids = append(ids, s.architectID)
	}
	def.Meta.DevConfig.ArchitectIDs = ids

	initial := file.InitialLocation
	if initial == "" {
		initial = DefaultLocation
	}
	return soul, def, initial
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
