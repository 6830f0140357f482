package seed_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/easeaico/soullink/internal/seed"
	"github.com/easeaico/soullink/internal/storage"
	"github.com/easeaico/soullink/internal/types"
)

const plaza = `{
  "location_id": "soul_plaza",
  "display_name": "Soul Plaza",
  "category": "public",
  "system_modifiers": {"privacy_gate": "Public"}
}`

const apartment = `{
  "location_id": "linkside_apartment",
  "display_name": "Linkside Apartment",
  "min_intimacy": 71,
  "system_modifiers": {"privacy_gate": "Private", "mood_modifiers": {"calm": 0.2}}
}`

const kira = `{
  "soul_id": "kira_01",
  "name": "Kira",
  "summary": "Night-shift mechanic.",
  "archetype": "rebel",
  "initial_location": "linkside_apartment",
  "definition": {
    "identity": {"age": 24},
    "routine": {"template_id": "night_owl", "location_preferences": {"home_zone": "linkside_apartment"}},
    "interaction_system": {"intimacy_tiers": {"STRANGER": {"llm_bias": "guarded"}}},
    "meta_data": {"dev_config": {"architect_ids": ["arch-0"]}}
  }
}`

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return store
}

func validFS() fstest.MapFS {
	return fstest.MapFS{
		"locations/soul_plaza.json":         {Data: []byte(plaza)},
		"locations/linkside_apartment.json": {Data: []byte(apartment)},
		"locations/_template.json":          {Data: []byte(`{"not": "valid"}`)},
		"souls/kira_01.json":                {Data: []byte(kira)},
	}
}

func TestLoadValidBundle(t *testing.T) {
	bundle, err := seed.Load(validFS())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bundle.Locations) != 2 || len(bundle.Souls) != 1 {
		t.Fatalf("unexpected bundle: %d locations, %d souls", len(bundle.Locations), len(bundle.Souls))
	}
	if bundle.Locations[0].ID != "linkside_apartment" || bundle.Locations[0].MinIntimacy != 71 {
		t.Fatalf("locations must load in file order: %+v", bundle.Locations[0])
	}
	soul := bundle.Souls[0]
	if soul.Definition.Interaction.IntimacyTiers[types.TierStranger].LLMBias != "guarded" {
		t.Fatalf("tier config not decoded: %+v", soul.Definition.Interaction)
	}
}

func TestLoadReportsEveryBadFile(t *testing.T) {
	fsys := validFS()
	fsys["locations/bad_gate.json"] = &fstest.MapFile{Data: []byte(`{
  "location_id": "bad_gate", "display_name": "Bad", "system_modifiers": {"privacy_gate": "Secret"}}`)}
	fsys["souls/no_def.json"] = &fstest.MapFile{Data: []byte(`{"soul_id": "no_def", "name": "Nobody"}`)}
	fsys["souls/broken.json"] = &fstest.MapFile{Data: []byte(`{"soul_id": `)}

	_, err := seed.Load(fsys)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, name := range []string{"locations/bad_gate.json", "souls/no_def.json", "souls/broken.json"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in error, got %v", name, err)
		}
	}
	var fileErr *seed.FileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("expected FileError, got %T", err)
	}
}

func TestLoadRejectsUnknownTierAndDanglingLocation(t *testing.T) {
	fsys := validFS()
	fsys["souls/kira_01.json"] = &fstest.MapFile{Data: []byte(strings.Replace(kira, `"STRANGER"`, `"BESTIE"`, 1))}
	if _, err := seed.Load(fsys); err == nil {
		t.Fatalf("expected unknown tier to be rejected")
	}

	fsys = validFS()
	fsys["souls/kira_01.json"] = &fstest.MapFile{Data: []byte(strings.Replace(kira, `"initial_location": "linkside_apartment"`, `"initial_location": "moon_base"`, 1))}
	_, err := seed.Load(fsys)
	if err == nil || !strings.Contains(err.Error(), "moon_base") {
		t.Fatalf("expected dangling location error, got %v", err)
	}
}

func TestApplyUpsertsAndInjectsArchitect(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	bundle, err := seed.Load(validFS())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	res, err := seed.NewSeeder(store, "arch-1").Apply(ctx, bundle)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Locations != 2 || res.Souls != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	soul, err := store.GetSoul(ctx, "kira_01")
	if err != nil {
		t.Fatalf("get soul: %v", err)
	}
	if soul.Version != seed.DefaultVersion || soul.PortraitURL != "/assets/images/souls/kira_01_01.jpeg" {
		t.Fatalf("defaults not applied: %+v", soul)
	}
	def, err := store.GetDefinition(ctx, "kira_01")
	if err != nil {
		t.Fatalf("get definition: %v", err)
	}
	if !def.IsArchitect("arch-0") || !def.IsArchitect("arch-1") {
		t.Fatalf("expected both architects, got %v", def.Meta.DevConfig.ArchitectIDs)
	}
	state, err := store.GetSoulState(ctx, "kira_01")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CurrentLocationID != "linkside_apartment" {
		t.Fatalf("expected initial location, got %s", state.CurrentLocationID)
	}

	// Re-seeding must not duplicate the architect or reset the live location.
	if err := store.UpdateSoulLocation(ctx, "kira_01", "soul_plaza"); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if _, err := seed.NewSeeder(store, "arch-1").Apply(ctx, bundle); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	def, _ = store.GetDefinition(ctx, "kira_01")
	if len(def.Meta.DevConfig.ArchitectIDs) != 2 {
		t.Fatalf("architect duplicated: %v", def.Meta.DevConfig.ArchitectIDs)
	}
	state, _ = store.GetSoulState(ctx, "kira_01")
	if state.CurrentLocationID != "soul_plaza" {
		t.Fatalf("re-seed reset live location to %s", state.CurrentLocationID)
	}
}

func TestApplyDryRunWritesNothing(t *testing.T) {
	store := openStore(t)
	bundle, err := seed.Load(validFS())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := seed.NewSeeder(store, "").DryRun(true).Apply(context.Background(), bundle)
	if err != nil || res.Souls != 1 {
		t.Fatalf("dry run: %+v %v", res, err)
	}
	souls, err := store.ListSouls(context.Background())
	if err != nil || len(souls) != 0 {
		t.Fatalf("dry run wrote %d souls (%v)", len(souls), err)
	}
}

func TestCheck(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	bundle, err := seed.Load(validFS())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := seed.NewSeeder(store, "arch-1").Apply(ctx, bundle); err != nil {
		t.Fatalf("apply: %v", err)
	}

	report, err := seed.Check(ctx, store, seed.CheckOptions{MinSouls: 1, MinLocations: 2, ArchitectID: "arch-1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK() || report.PrivateLocations != 1 || report.PublicLocations != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	report, err = seed.Check(ctx, store, seed.CheckOptions{MinSouls: seed.MinSouls, MinLocations: seed.MinLocations, ArchitectID: "someone-else"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.OK() || len(report.ArchitectMissing) != 1 {
		t.Fatalf("expected failing report, got %+v", report)
	}
}
