package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/refpages/apidelta/pkg/changelog"
)

// exportCmd implements: apidelta export
// Renders the stored changelogs to per-package artifacts a docs site can
// serve directly: the changelog in the requested format plus latest.json.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render stored changelogs to files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "markdown", "yaml", "json":
		default:
			return fmt.Errorf("unknown format %q (want markdown, yaml or json)", format)
		}

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		packages, err := db.ListPackages(cmd.Context())
		if err != nil {
			return err
		}
		if only, _ := cmd.Flags().GetString("package"); only != "" {
			packages = []string{only}
		}
		if len(packages) == 0 {
			fmt.Println("Nothing to export.")
			return nil
		}

		// Display names come from the config; packages built elsewhere fall
		// back to their id.
		titles := map[string]string{}
		var configured []changelog.PackageRef
		if err := viper.UnmarshalKey("packages", &configured); err == nil {
			for _, p := range configured {
				titles[p.ID] = p.Name()
			}
		}

		outDir, _ := cmd.Flags().GetString("out")
		for _, id := range packages {
			cl, idx, err := db.Fetch(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("loading %s: %w", id, err)
			}

			title := titles[id]
			if title == "" {
				title = id
			}

			pkgDir := filepath.Join(outDir, id)
			if err := os.MkdirAll(pkgDir, 0o755); err != nil {
				return err
			}

			written, err := writeChangelog(pkgDir, format, cl, title)
			if err != nil {
				return err
			}

			if idx != nil {
				blob, err := json.MarshalIndent(idx, "", "  ")
				if err != nil {
					return err
				}
				latestPath := filepath.Join(pkgDir, "latest.json")
				if err := os.WriteFile(latestPath, append(blob, '\n'), 0o644); err != nil {
					return err
				}
				written = append(written, latestPath)
			}

			for _, path := range written {
				fmt.Printf("%s: wrote %s\n", id, path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("db", "", "Path to SQLite DB file (default: ~/.config/apidelta/apidelta.sqlite)")
	exportCmd.Flags().String("out", "changelogs", "Output directory")
	exportCmd.Flags().String("format", "markdown", "Output format: markdown, yaml or json")
	exportCmd.Flags().String("package", "", "Only export this package")
}

func writeChangelog(pkgDir, format string, cl *changelog.PackageChangelog, title string) ([]string, error) {
	var path string
	var data []byte

	switch format {
	case "markdown":
		path = filepath.Join(pkgDir, "CHANGELOG.md")
		data = []byte(changelog.Markdown(cl, title))
	case "yaml":
		blob, err := changelog.YAML(cl, title)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(pkgDir, "changelog.yaml")
		data = blob
	case "json":
		blob, err := json.MarshalIndent(cl, "", "  ")
		if err != nil {
			return nil, err
		}
		path = filepath.Join(pkgDir, "changelog.json")
		data = append(blob, '\n')
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}
