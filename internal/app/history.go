package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"changelabel/internal/report"
	"changelabel/internal/storage/sqlite"
)

func newHistoryCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Summarize labels recorded in the run history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if cfg.HistoryDBPath == "" {
				return fmt.Errorf("history_db_path is not set")
			}
			store, err := sqlite.InitDB(cfg.HistoryDBPath)
			if err != nil {
				return fmt.Errorf("opening history db: %w", err)
			}
			defer store.Close()

			since := cfg.Window.Since
			counts, err := store.GetLabelCounts(cmd.Context(), since)
			if err != nil {
				return fmt.Errorf("loading label counts: %w", err)
			}
			stats, err := store.GetClassificationStats(cmd.Context(), since)
			if err != nil {
				return fmt.Errorf("loading classification stats: %w", err)
			}
			report.PrintHistory(cmd.OutOrStdout(), since, counts, stats)
			return nil
		},
	}
}
