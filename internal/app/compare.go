package app

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"changelabel/internal/compare"
	"changelabel/internal/config"
	"changelabel/internal/integrations/llm"
	"changelabel/internal/report"
)

func newCompareCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Classify the same records with two providers and report agreement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			nameA, nameB := cfg.CompareProviders[0], cfg.CompareProviders[1]
			a, b, err := compareClassifiers(cfg)
			if err != nil {
				return err
			}

			src, err := openSource(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("opening %s source: %w", cfg.Source, err)
			}
			defer src.Close()

			c := &compare.Comparer{
				Source:     src,
				A:          a,
				B:          b,
				NameA:      nameA,
				NameB:      nameB,
				Window:     cfg.Window,
				MaxRecords: cfg.MaxRecords,
			}
			res, err := c.Run(cmd.Context())
			if err != nil {
				return err
			}

			output := cfg.Output
			if output == "" {
				output = report.DefaultOutputName("llm_comparison", cfg.Repo, cfg.Window.Since, cfg.Window.Until)
			}
			if err := report.WriteComparisons(output, res.Rows); err != nil {
				log.Printf("Error writing %s: %v", output, err)
			} else {
				log.Printf("Comparison written to %s", output)
			}

			compare.PrintResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

// compareClassifiers builds both sides of a comparison on their provider
// defaults. llm_model names a model of the classify provider only.
func compareClassifiers(cfg config.Config) (*llm.ModelClassifier, *llm.ModelClassifier, error) {
	a, err := newModelClassifier(cfg, cfg.CompareProviders[0], "", "")
	if err != nil {
		return nil, nil, err
	}
	b, err := newModelClassifier(cfg, cfg.CompareProviders[1], "", "")
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
