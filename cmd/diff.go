package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refpages/apidelta/pkg/delta"
	"github.com/refpages/apidelta/pkg/ir"
)

// diffCmd implements: apidelta diff older.json newer.json
// One-shot delta between two IR files, no discovery and no database.
var diffCmd = &cobra.Command{
	Use:   "diff <older.json> <newer.json>",
	Short: "Compute the delta between two IR files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		older, err := ir.Load(args[0])
		if err != nil {
			return err
		}
		newer, err := ir.Load(args[1])
		if err != nil {
			return err
		}

		d := delta.Compute(older, newer)

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			fmt.Printf("%s -> %s: %d added, %d removed, %d modified, %d deprecated, %d breaking\n",
				d.PreviousVersion, d.Version, len(d.Added), len(d.Removed), len(d.Modified), len(d.Deprecated), d.BreakingCount())
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolP("quiet", "q", false, "Print a one-line summary instead of the JSON delta")
}
