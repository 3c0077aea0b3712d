package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"changelabel/internal/domain"
	"changelabel/internal/pipeline"
	"changelabel/internal/report"
)

func newMineCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Write commit metadata and churn to CSV without classifying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			src, err := openSource(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("opening %s source: %w", cfg.Source, err)
			}
			defer src.Close()

			res, err := mine(cmd.Context(), src, cfg.Window, cfg.MaxRecords)
			if err != nil {
				return err
			}

			output := cfg.Output
			if output == "" {
				output = report.DefaultOutputName("commits", cfg.Repo, cfg.Window.Since, cfg.Window.Until)
			}
			if err := report.WriteCommitInfo(output, res.Records); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Records scanned:  %d\n", res.Scanned)
			fmt.Fprintf(out, "Records written:  %d\n", len(res.Records))
			fmt.Fprintf(out, "Stopped:          %s\n", res.StopReason)
			fmt.Fprintf(out, "Output:           %s\n", output)
			return nil
		},
	}
}

type mineResult struct {
	Records    []domain.ChangeRecord
	Scanned    int
	StopReason pipeline.StopReason
}

// mine collects finalized, non-merge records inside the window. It stops on
// the same conditions as a classification run.
func mine(ctx context.Context, src pipeline.Source, window domain.Window, maxRecords int) (mineResult, error) {
	var res mineResult
	for {
		if ctx.Err() != nil {
			res.StopReason = pipeline.StopCanceled
			return res, nil
		}
		rec, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			res.StopReason = pipeline.StopSourceExhausted
			return res, nil
		case errors.Is(err, domain.ErrWindowExhausted):
			res.StopReason = pipeline.StopWindowExhausted
			return res, nil
		case errors.Is(err, context.Canceled):
			res.StopReason = pipeline.StopCanceled
			return res, nil
		case err != nil:
			return res, fmt.Errorf("reading change records: %w", err)
		}
		if maxRecords > 0 && res.Scanned >= maxRecords {
			res.StopReason = pipeline.StopRecordCap
			return res, nil
		}
		res.Scanned++
		if res.Scanned%100 == 0 {
			log.Printf("mine scanned=%d last=%s", res.Scanned, rec.ID)
		}
		if !rec.Finalized || rec.MergeCommit || !window.Contains(rec.FinalizedAt) {
			continue
		}
		res.Records = append(res.Records, rec)
	}
}
