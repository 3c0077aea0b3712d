package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"changelabel/internal/integrations/librariesio"
	"changelabel/internal/report"
)

func newPkgStatsCmd(load configLoader) *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "pkgstats <package>...",
		Short: "Look up stars, forks and subscribers on libraries.io",
		Long: "Each package is platform/name (for example npm/react or pypi/requests); " +
			"a bare name uses --platform.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if cfg.LibrariesIOAPIKey == "" {
				return fmt.Errorf("librariesio_api_key is not set")
			}

			client := librariesio.NewClient(cfg.LibrariesIOAPIKey, "")
			projects, failures := client.Projects(cmd.Context(), args, platform)

			out := cmd.OutOrStdout()
			for _, f := range failures {
				fmt.Fprintf(out, "skipped %s/%s: %v\n", f.Platform, f.Name, f.Err)
			}
			if len(projects) == 0 {
				return fmt.Errorf("no package could be looked up")
			}
			librariesio.PrintChart(out, projects)

			if cfg.Output != "" {
				if err := report.WritePackageStats(cfg.Output, projects); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nOutput: %s\n", cfg.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "pypi", "platform for packages given without one")
	return cmd
}
