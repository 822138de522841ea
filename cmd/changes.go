package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recently recorded version deltas (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		breakingOnly, _ := cmd.Flags().GetBool("breaking")

		deltas, err := db.ListRecentDeltas(cmd.Context(), limit, breakingOnly)
		if err != nil {
			return err
		}

		for _, d := range deltas {
			ts := d.CreatedAt.Format("2006-01-02 15:04:05")
			from := d.PreviousVersion
			if from == "" {
				from = "(first)"
			}
			line := fmt.Sprintf("%s  %s  %s <- %s", ts, d.PackageID, d.Version, from)
			if d.BreakingCount > 0 {
				line += color.RedString("  %d breaking", d.BreakingCount)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().String("db", "", "Path to SQLite DB file (default: ~/.config/apidelta/apidelta.sqlite)")
	changesCmd.Flags().Int("limit", 50, "Number of recent deltas to show")
	changesCmd.Flags().Bool("breaking", false, "Only show deltas carrying breaking changes")
}
