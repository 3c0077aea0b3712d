package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"changelabel/internal/classify"
	"changelabel/internal/config"
	"changelabel/internal/domain"
	"changelabel/internal/integrations/llm"
	slackbot "changelabel/internal/integrations/slack"
	"changelabel/internal/labelcache"
	"changelabel/internal/pipeline"
	"changelabel/internal/report"
	"changelabel/internal/schedule"
	"changelabel/internal/storage/sqlite"
)

func newClassifyCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Label change records through the cache, rules and model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			serveMetrics(cfg.MetricsAddr)

			var store *sqlite.Store
			if cfg.HistoryDBPath != "" {
				store, err = sqlite.InitDB(cfg.HistoryDBPath)
				if err != nil {
					return fmt.Errorf("opening history db: %w", err)
				}
				defer store.Close()
				log.Printf("History database at %s", cfg.HistoryDBPath)
			}

			job := func(ctx context.Context) error {
				runCfg, err := withWindowAt(cfg, time.Now())
				if err != nil {
					return err
				}
				return runClassify(ctx, runCfg, store, cmd.OutOrStdout())
			}
			if cfg.Schedule == "" {
				return job(cmd.Context())
			}
			log.Printf("Scheduled classify runs: %s", cfg.Schedule)
			return schedule.Run(cmd.Context(), cfg.Schedule, time.Local, job)
		},
	}
}

// withWindowAt returns cfg with its window resolved against now, so repeated
// scheduled runs advance a defaulted since.
func withWindowAt(cfg config.Config, now time.Time) (config.Config, error) {
	window, err := cfg.WindowAt(now)
	if err != nil {
		return cfg, err
	}
	cfg.Window = window
	return cfg, nil
}

// newModelClassifier builds a provider client. An empty model selects the
// provider's default.
func newModelClassifier(cfg config.Config, provider, model, baseURL string) (*llm.ModelClassifier, error) {
	return llm.NewModelClassifier(llm.ProviderConfig{
		Name:    provider,
		Model:   model,
		APIKey:  cfg.APIKeyFor(provider),
		BaseURL: baseURL,
		Rates: llm.Rates{
			InputPerMillion:  cfg.LLMInputCostPerMillion,
			OutputPerMillion: cfg.LLMOutputCostPerMillion,
		},
	})
}

// runClassify performs one full run: open everything, classify, write the
// CSV, print the summary and notify. store may be nil.
func runClassify(ctx context.Context, cfg config.Config, store *sqlite.Store, out io.Writer) error {
	src, err := openSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s source: %w", cfg.Source, err)
	}
	defer src.Close()

	cache, err := labelcache.Open(cfg.LabelCachePath)
	if err != nil {
		return fmt.Errorf("opening label cache: %w", err)
	}
	defer cache.Close()

	rules, err := classify.LoadRules(cfg.RulesGlossaryPath)
	if err != nil {
		return err
	}

	model, err := newModelClassifier(cfg, cfg.LLMProvider, cfg.LLMModel, cfg.LLMBaseURL)
	if err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Source:     src,
		Cache:      cache,
		Rules:      rules,
		Model:      model,
		Window:     cfg.Window,
		MaxRecords: cfg.MaxRecords,
		LabelLimit: cfg.LabelLimit,
	}

	run := domain.RunRecord{Source: cfg.Source, Repo: cfg.Repo, StartedAt: time.Now()}
	if store != nil {
		run.ID, err = store.StartRun(ctx, run)
		if err != nil {
			return fmt.Errorf("recording run start: %w", err)
		}
		p.History = store
		p.RunID = run.ID
	}

	sum, runErr := p.Run(ctx)

	if store != nil {
		run.FinishedAt = time.Now()
		run.StopReason = string(sum.StopReason)
		run.Examined = sum.Examined
		run.Classified = sum.Classified
		run.Failed = sum.Failed
		run.Cost = sum.TotalCost
		// The run may have been canceled; the record is still written.
		if err := store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Printf("Error recording run finish: %v", err)
		}
	}

	output := cfg.Output
	if output == "" {
		output = report.DefaultOutputName(outputPrefix(cfg.Source), cfg.Repo, cfg.Window.Since, cfg.Window.Until)
	}
	writeErr := report.WriteClassifications(output, sum.Rows)
	if writeErr != nil {
		log.Printf("Error writing %s: %v", output, writeErr)
		output = ""
	}

	report.PrintSummary(out, sum, report.RunInfo{
		Source:     cfg.Source,
		Repo:       cfg.Repo,
		RateLimit:  src.RateLimit(),
		OutputPath: output,
	})

	if cfg.SlackConfigured() {
		text := slackbot.FormatRunSummary(cfg.Repo, sum, runErr)
		if err := slackbot.New(cfg.SlackBotToken).PostSummary(context.WithoutCancel(ctx), cfg.ReportChannelID, text); err != nil {
			log.Printf("Error posting run summary to Slack: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	return writeErr
}

func outputPrefix(source string) string {
	switch source {
	case config.SourceGit:
		return "commit_classifications"
	case config.SourceGitLab:
		return "mr_classifications"
	}
	return "pr_classifications"
}
