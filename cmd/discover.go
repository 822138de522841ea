package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/githost"
	"github.com/refpages/apidelta/pkg/githost/github"
	"github.com/refpages/apidelta/pkg/githost/gitlab"
	"github.com/refpages/apidelta/pkg/githost/gitrepo"
)

// discoverCmd implements: apidelta discover
// Lists the versions the retention policy would track for a repository,
// without extracting or persisting anything.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the released versions of a repository that would be tracked",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown argument: '%s'. See 'apidelta discover --help'", args[0])
		}

		repo, _ := cmd.Flags().GetString("repo")
		owner, name, found := strings.Cut(repo, "/")
		if !found || owner == "" || name == "" {
			return fmt.Errorf("--repo must be in owner/name form, got %q", repo)
		}

		hostName, _ := cmd.Flags().GetString("host")
		proxy, _ := cmd.Flags().GetString("proxy")
		host, err := resolveHost(hostName, proxy)
		if err != nil {
			return err
		}

		pattern, _ := cmd.Flags().GetString("pattern")
		maxVersions, _ := cmd.Flags().GetInt("max")
		include, _ := cmd.Flags().GetStringSlice("include")
		minVersion, _ := cmd.Flags().GetString("min-version")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		versions, err := discovery.Discover(cmd.Context(), host, owner, name, discovery.Options{
			Pattern:       pattern,
			MaxVersions:   maxVersions,
			AlwaysInclude: include,
			MinVersion:    minVersion,
			Concurrency:   concurrency,
		})
		if err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Printf("No tags of %s match pattern %q\n", repo, pattern)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tTAG\tCOMMIT\tRELEASED\t")
		for _, v := range versions {
			fmt.Fprintf(w, "%s\t%s\t%.12s\t%s\t\n", v.Version, v.Tag, v.CommitSHA, v.ReleaseDate.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().String("repo", "", "Repository in owner/name form (required)")
	discoverCmd.Flags().String("pattern", "v*", "Tag pattern, e.g. 'v*', 'pkg-v*' or '@scope/pkg@*'")
	discoverCmd.Flags().String("host", "github", "Git host: github, gitlab, or a path to a local clone")
	discoverCmd.Flags().Int("max", 0, "Keep at most this many versions (0 = unlimited)")
	discoverCmd.Flags().StringSlice("include", nil, "Versions to keep even past the retention cutoff")
	discoverCmd.Flags().String("min-version", "", "Ignore versions older than this")
	discoverCmd.Flags().Int("concurrency", 0, "Concurrent tag resolutions (default 8)")
	_ = discoverCmd.MarkFlagRequired("repo")
}

// resolveHost builds the git host client named by --host or a package's
// host field: "github", "gitlab", or a path to a local clone.
func resolveHost(name, proxy string) (githost.Host, error) {
	switch name {
	case "github", "":
		return github.NewClient(viper.GetString("github.token"), proxy), nil
	case "gitlab":
		return gitlab.NewClient(viper.GetString("gitlab.token"), proxy), nil
	default:
		if _, err := os.Stat(name); err == nil {
			return gitrepo.Open(name)
		}
		return nil, fmt.Errorf("unknown host %q (want github, gitlab, or a path to a local clone)", name)
	}
}
