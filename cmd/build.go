package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/refpages/apidelta/internal/utils"
	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/extractor"
	"github.com/refpages/apidelta/pkg/published"
	"github.com/refpages/apidelta/pkg/storage"
)

// buildCmd implements: apidelta build
// Flags:
//
//	--package string        Only build this package id (default: all configured)
//	--full                  Recompute every version instead of extending
//	--db string             SQLite database path
//	--state-url string      Extend the changelogs published at this URL
//	--ir-dir string         Directory of pre-extracted IR files
//	--extractor-cmd string  Command template producing IR on stdout
//	--concurrency int       Packages built in parallel
//
// Uses global flags from root (proxy, loglevel, config).
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or extend the changelogs of the configured packages",
	Long: `Build or extend the changelogs of the configured packages.

Packages are configured in ~/.apidelta.yaml:

  packages:
    - id: widgets
      name: "@acme/widgets"
      repo: acme/widgets
      pattern: "@acme/widgets@*"
      host: github
      max_versions: 30

Each package's released versions are discovered from its git host, the IR
of every undocumented version is extracted, diffed against its predecessor
and appended to the stored changelog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown argument: '%s'. See 'apidelta build --help'", args[0])
		}

		var pkgs []changelog.PackageRef
		if err := viper.UnmarshalKey("packages", &pkgs); err != nil {
			return fmt.Errorf("invalid packages config: %w", err)
		}
		if only, _ := cmd.Flags().GetString("package"); only != "" {
			filtered := pkgs[:0]
			for _, p := range pkgs {
				if p.ID == only {
					filtered = append(filtered, p)
				}
			}
			pkgs = filtered
			if len(pkgs) == 0 {
				return fmt.Errorf("package %q is not configured", only)
			}
		}
		if len(pkgs) == 0 {
			return fmt.Errorf("no packages configured. Add a packages list to ~/.apidelta.yaml")
		}

		ext, err := buildExtractor(cmd)
		if err != nil {
			return err
		}

		dbPath, _ := cmd.Flags().GetString("db")
		absPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return err
		}

		// One writer at a time: concurrent builds against the same database
		// would race the append-only check.
		lock, err := utils.NewDBLock(absPath)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				utils.Log.Warnf("Failed to release database lock: %v", err)
			}
		}()

		db, err := storage.Open(absPath)
		if err != nil {
			return err
		}
		defer db.Close()

		proxy, _ := cmd.Flags().GetString("proxy")
		assembler := &changelog.Assembler{
			Extractor: ext,
			Store:     db,
			Log:       utils.Log,
		}
		if stateURL, _ := cmd.Flags().GetString("state-url"); stateURL != "" {
			assembler.Source = published.NewClient(stateURL, proxy)
		}

		var jobs []changelog.BuildJob
		failedHosts := 0
		for _, pkg := range pkgs {
			host, err := resolveHost(pkg.Host, proxy)
			if err != nil {
				utils.Log.Errorf("Skipping %s: %v", pkg.ID, err)
				failedHosts++
				continue
			}
			jobs = append(jobs, changelog.BuildJob{Pkg: pkg, Host: host})
		}

		full, _ := cmd.Flags().GetBool("full")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		var printMu sync.Mutex
		results := assembler.BuildAll(cmd.Context(), changelog.BuildAllConfig{
			Jobs:        jobs,
			Options:     changelog.BuildOptions{Full: full},
			Concurrency: concurrency,
			OnPackageDone: func(pkg changelog.PackageRef, result *changelog.BuildResult) {
				printMu.Lock()
				defer printMu.Unlock()
				printBuildResult(pkg, result)
			},
		})

		failed := failedHosts
		for _, result := range results {
			if result.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d packages failed", failed, len(pkgs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("package", "", "Only build this configured package id")
	buildCmd.Flags().Bool("full", false, "Recompute every discovered version instead of extending stored state")
	buildCmd.Flags().String("db", "", "Path to SQLite DB file (default: ~/.config/apidelta/apidelta.sqlite)")
	buildCmd.Flags().String("state-url", "", "Base URL of published changelogs to extend (e.g. https://docs.example.com/changelogs)")
	buildCmd.Flags().String("ir-dir", "ir", "Directory holding pre-extracted IR files (<dir>/<package>/<version>.json)")
	buildCmd.Flags().String("extractor-cmd", "", "Command template printing IR JSON to stdout ({{PACKAGE}}, {{VERSION}}, {{SHA}}, {{REPO}})")
	buildCmd.Flags().Int("concurrency", 2, "Number of packages built in parallel")
}

// buildExtractor picks the IR source: an external command template when
// given, a directory of pre-extracted files otherwise.
func buildExtractor(cmd *cobra.Command) (changelog.Extractor, error) {
	if template, _ := cmd.Flags().GetString("extractor-cmd"); template != "" {
		return extractor.NewCommandExtractor(template)
	}
	irDir, _ := cmd.Flags().GetString("ir-dir")
	return extractor.NewDirExtractor(irDir), nil
}

// printBuildResult streams one package's outcome as its build finishes.
func printBuildResult(pkg changelog.PackageRef, result *changelog.BuildResult) {
	if result.Err != nil {
		utils.Log.Errorf("%s: build failed: %v", pkg.ID, result.Err)
		return
	}

	if len(result.NewDeltas) == 0 {
		documented := 0
		if result.Changelog != nil {
			documented = len(result.Changelog.Deltas)
		}
		fmt.Printf("%s: up to date (%d versions documented)\n", result.PackageID, documented)
	}

	for _, d := range result.NewDeltas {
		line := fmt.Sprintf("%s@%s: +%d added, -%d removed, ~%d modified", result.PackageID, d.Version, len(d.Added), len(d.Removed), len(d.Modified))
		if n := len(d.Deprecated); n > 0 {
			line += fmt.Sprintf(", %d deprecated", n)
		}
		if n := d.BreakingCount(); n > 0 {
			line += color.RedString(", %d breaking", n)
		}
		fmt.Println(line)
	}

	for _, err := range result.Errors {
		utils.Log.Warnf("%s: skipped: %v", result.PackageID, err)
	}
}
