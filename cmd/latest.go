package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest-version pointer of each tracked package",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		indexes, err := db.ListIndexes(cmd.Context())
		if err != nil {
			return err
		}

		if only, _ := cmd.Flags().GetString("package"); only != "" {
			for _, idx := range indexes {
				if idx.PackageID == only {
					fmt.Println(idx.Latest.Version)
					return nil
				}
			}
			return fmt.Errorf("no version index for package %q", only)
		}

		if len(indexes) == 0 {
			fmt.Println("No packages tracked yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PACKAGE\tLATEST\tCOMMIT\tUPDATED\t")
		for _, idx := range indexes {
			fmt.Fprintf(w, "%s\t%s\t%.12s\t%s\t\n", idx.PackageID, idx.Latest.Version, idx.Latest.SHA, idx.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(latestCmd)
	latestCmd.Flags().String("db", "", "Path to SQLite DB file (default: ~/.config/apidelta/apidelta.sqlite)")
	latestCmd.Flags().String("package", "", "Print only this package's latest version")
}
