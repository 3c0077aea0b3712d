// Package app wires configuration, sources, classifiers and reports into the
// changelabel command tree.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"changelabel/internal/config"
	"changelabel/internal/httpx"
)

var Version = "dev"

func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "changelabel",
		Short: "Classify change records with cached, rule-based and model labels",
		Long: "changelabel mines commits, pull requests and merge requests, labels each one " +
			"through a label cache, regex rules and a remote model, and writes a CSV report.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	config.RegisterFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (config.Config, error) {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return cfg, err
		}
		applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
		log.Printf("Config loaded. Source=%s Repo=%s Provider=%s Window=%s ExternalHTTPTimeout=%s",
			cfg.Source, cfg.Repo, cfg.LLMProvider, describeWindow(cfg), applied)
		return cfg, nil
	}

	root.AddCommand(
		newClassifyCmd(load),
		newMineCmd(load),
		newCompareCmd(load),
		newPkgStatsCmd(load),
		newHistoryCmd(load),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("changelabel %s\n", Version))
	return root
}

type configLoader func(cmd *cobra.Command) (config.Config, error)

// Main runs the command tree and exits non-zero on failure.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		log.Printf("metrics listening addr=%s path=/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
}

func describeWindow(cfg config.Config) string {
	from, to := "start", "now"
	if !cfg.Window.Since.IsZero() {
		from = cfg.Window.Since.Format("2006-01-02")
	}
	if !cfg.Window.Until.IsZero() {
		to = cfg.Window.Until.Format("2006-01-02")
	}
	return from + ".." + to
}
