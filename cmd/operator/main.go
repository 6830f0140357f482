// Package main provides the operator CLI for deployment and operations tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/easeaico/soullink/internal/config"
	"github.com/easeaico/soullink/internal/linkstate"
	"github.com/easeaico/soullink/internal/location"
	"github.com/easeaico/soullink/internal/routine"
	"github.com/easeaico/soullink/internal/seed"
	"github.com/easeaico/soullink/internal/storage"
)

const version = "1.5.6"

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "operator",
		Usage: "SoulLink deployment and operations CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database-url", Sources: cli.EnvVars("DATABASE_URL", "SUPABASE_DB_URL"), Usage: "postgres:// or sqlite: database URL"},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			seedCommand(),
			validateCommand(),
			relocateCommand(),
			grantCommand(),
			penalizeCommand(),
			pruneCommand(),
			{
				Name:  "version",
				Usage: "show version information",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Printf("soullink operator v%s\n", version)
					return nil
				},
			},
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

// openStore connects with the root --database-url flag.
func openStore(ctx context.Context, c *cli.Command) (*storage.Store, error) {
	url := c.String("database-url")
	if url == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	store, err := storage.NewStore(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sql", Usage: "apply the embedded goose migrations (postgres only) instead of AutoMigrate"},
			&cli.BoolFlag{Name: "status", Usage: "print the goose version and exit"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			if c.Bool("status") {
				v, err := store.MigrationVersion(ctx)
				if err != nil {
					return fmt.Errorf("failed to read migration version: %w", err)
				}
				fmt.Printf("schema version: %d\n", v)
				return nil
			}
			if c.Bool("sql") {
				fmt.Println("Applying SQL migrations...")
				if err := store.RunMigrations(ctx); err != nil {
					return err
				}
			} else {
				fmt.Println("Migrating application tables...")
				if err := store.AutoMigrate(); err != nil {
					return err
				}
			}
			fmt.Println("  ✓ Schema up to date")
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "load locations and souls from a seed directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: "seed", Usage: "directory with locations/ and souls/"},
			&cli.BoolFlag{Name: "dry-run", Usage: "validate and report without writing"},
			&cli.StringFlag{Name: "architect", Sources: cli.EnvVars("ARCHITECT_UUID"), Usage: "user id added to every soul's architect list"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			bundle, err := seed.Load(os.DirFS(c.String("dir")))
			if err != nil {
				return fmt.Errorf("seed bundle is invalid:\n%w", err)
			}
			fmt.Printf("Loaded %d location(s) and %d soul(s)\n", len(bundle.Locations), len(bundle.Souls))

			dryRun := c.Bool("dry-run")
			var store seed.Store
			if !dryRun {
				s, err := openStore(ctx, c)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.AutoMigrate(); err != nil {
					return err
				}
				store = s
			}

			res, err := seed.NewSeeder(store, c.String("architect")).DryRun(dryRun).Apply(ctx, bundle)
			fmt.Printf("  locations: %d  souls: %d  failed: %d\n", res.Locations, res.Souls, res.Failed)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Println("\nDry run mode - no changes were made")
			} else {
				fmt.Println("\nSeed completed successfully!")
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check configuration, database connectivity and seeded content",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "min-souls", Value: seed.MinSouls},
			&cli.IntFlag{Name: "min-locations", Value: seed.MinLocations},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			fmt.Println("Validating configuration...")
			cfg := config.FromEnv()
			if c.String("database-url") != "" {
				cfg.DatabaseURL = c.String("database-url")
			}
			printSetting("Database URL", "DATABASE_URL", cfg.DatabaseURL)
			printSetting("Completion API Key", "GROQ_API_KEY", cfg.CompletionAPIKey)
			printSetting("Supabase JWT Secret", "SUPABASE_JWT_SECRET", cfg.SupabaseJWTSecret)
			printSetting("Supabase URL", "SUPABASE_URL", cfg.SupabaseURL)
			printSetting("Gemini API Key", "GEMINI_API_KEY", cfg.GeminiAPIKey)
			printSetting("Ad SSV Secret", "AD_SSV_SECRET", cfg.AdSSVSecret)
			if err := cfg.Validate(); err != nil {
				fmt.Printf("\n%v\n", err)
				return cli.Exit("Configuration validation failed!", 1)
			}

			fmt.Println("\nTesting database connection...")
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			store, err := openStore(pingCtx, c)
			if err != nil {
				fmt.Printf("  ✗ %v\n", err)
				return cli.Exit("Database check failed!", 1)
			}
			defer store.Close()
			fmt.Println("  ✓ Database connection successful")

			fmt.Println("\nChecking seeded content...")
			report, err := seed.Check(ctx, store, seed.CheckOptions{
				MinSouls:     int(c.Int("min-souls")),
				MinLocations: int(c.Int("min-locations")),
				ArchitectID:  cfg.ArchitectUUID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("  souls: %d  locations: %d (public %d, private %d)\n",
				report.Souls, report.Locations, report.PublicLocations, report.PrivateLocations)
			printIssues("missing definitions", report.MissingDefinitions)
			printIssues("missing live state", report.MissingStates)
			printIssues("unknown live location", report.DanglingLocations)
			printIssues("empty intimacy tiers", report.EmptyTiers)
			printIssues("architect not listed", report.ArchitectMissing)
			if !report.OK() {
				return cli.Exit("Content validation failed!", 1)
			}
			fmt.Println("\nValidation completed!")
			return nil
		},
	}
}

func relocateCommand() *cli.Command {
	return &cli.Command{
		Name:  "relocate",
		Usage: "move a soul in the shared world for every user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "soul", Required: true},
			&cli.StringFlag{Name: "location", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetSoul(ctx, c.String("soul")); err != nil {
				return fmt.Errorf("soul %s: %w", c.String("soul"), err)
			}
			if _, err := store.GetLocation(ctx, c.String("location")); err != nil {
				return fmt.Errorf("location %s: %w", c.String("location"), err)
			}
			resolver := location.NewResolver(store, routine.Default(), nil)
			if err := resolver.UpdateGlobal(ctx, c.String("soul"), c.String("location")); err != nil {
				return err
			}
			fmt.Printf("  ✓ %s is now at %s (running servers pick this up when their world cache expires)\n",
				c.String("soul"), c.String("location"))
			return nil
		},
	}
}

func grantCommand() *cli.Command {
	return &cli.Command{
		Name:  "grant",
		Usage: "credit signal stability to a link",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "soul", Required: true},
			&cli.FloatFlag{Name: "amount", Value: 100},
			&cli.StringFlag{Name: "reason", Value: linkstate.ReasonOperatorGrant, Usage: "operator_grant, or overdrive_grant to leave an audit row"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			reason := c.String("reason")
			if reason != linkstate.ReasonOperatorGrant && reason != linkstate.ReasonOverdriveGrant {
				return fmt.Errorf("unsupported grant reason %q", reason)
			}
			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			links := linkstate.NewService(store, "")
			link, err := links.Get(ctx, c.String("user"), c.String("soul"))
			if err != nil {
				return err
			}
			updated, err := links.CreditStability(ctx, link, c.Float("amount"), reason)
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ stability %.1f -> %.1f\n", link.SignalStability, updated.SignalStability)
			return nil
		},
	}
}

func penalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "penalize",
		Usage: "lower a link's intimacy score; the tier may drop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "soul", Required: true},
			&cli.IntFlag{Name: "amount", Value: 10},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := linkstate.NewService(store, "").Penalize(ctx, c.String("user"), c.String("soul"), int(c.Int("amount")))
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ intimacy %d (%s -> %s)\n", result.Link.IntimacyScore, result.PrevTier, result.Link.IntimacyTier)
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-orphans",
		Usage: "delete link states whose user or soul no longer exists",
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteOrphanLinks(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ removed %d orphaned link state(s)\n", n)
			return nil
		},
	}
}

func printSetting(name, envVar, value string) {
	if value == "" {
		fmt.Printf("  - %s (%s): not set\n", name, envVar)
		return
	}
	display := value
	lower := strings.ToLower(envVar)
	if strings.Contains(lower, "key") || strings.Contains(lower, "secret") {
		display = maskValue(value)
	}
	if strings.Contains(lower, "url") && strings.Contains(value, "@") {
		display = maskDatabaseURL(value)
	}
	fmt.Printf("  ✓ %s (%s): %s\n", name, envVar, display)
}

func printIssues(label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("  ✗ %s: %s\n", label, strings.Join(ids, ", "))
}
