package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"changelabel/internal/domain"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

// DefaultMaxRecords bounds a run when max_records is not set. NoRecordCap
// turns the cap off.
const (
	DefaultMaxRecords = 50
	NoRecordCap       = -1
)

// Hosted sources default to the last 180 days when since is not set.
const defaultHostedLookback = 180 * 24 * time.Hour

const (
	SourceGit    = "git"
	SourceGitHub = "github"
	SourceGitLab = "gitlab"
)

type Config struct {
	Source      string `yaml:"source"`
	Repo        string `yaml:"repo"`
	Branch      string `yaml:"branch"`
	TrunkBranch string `yaml:"trunk_branch"`
	Since       string `yaml:"since"`
	Until       string `yaml:"until"`
	Output      string `yaml:"output"`
	MaxRecords  int    `yaml:"max_records"`
	LabelLimit  int    `yaml:"label_limit"`

	LabelCachePath    string `yaml:"label_cache_path"`
	RulesGlossaryPath string `yaml:"rules_glossary_path"`

	LLMProvider             string   `yaml:"llm_provider"`
	LLMModel                string   `yaml:"llm_model"`
	LLMBaseURL              string   `yaml:"llm_base_url"`
	AnthropicAPIKey         string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey            string   `yaml:"openai_api_key"`
	DeepSeekAPIKey          string   `yaml:"deepseek_api_key"`
	LLMInputCostPerMillion  float64  `yaml:"llm_input_cost_per_million"`
	LLMOutputCostPerMillion float64  `yaml:"llm_output_cost_per_million"`
	CompareProviders        []string `yaml:"compare_providers"`

	GitHubToken string `yaml:"github_token"`
	GitLabURL   string `yaml:"gitlab_url"`
	GitLabToken string `yaml:"gitlab_token"`

	HistoryDBPath              string `yaml:"history_db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Schedule                   string `yaml:"schedule"`
	SlackBotToken              string `yaml:"slack_bot_token"`
	ReportChannelID            string `yaml:"report_channel_id"`
	MetricsAddr                string `yaml:"metrics_addr"`
	LibrariesIOAPIKey          string `yaml:"librariesio_api_key"`

	Window domain.Window `yaml:"-"` // computed from Since and Until
}

// RegisterFlags adds the command-line overrides. Secrets are file or env only.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("source", "", "change source: git, github or gitlab")
	fs.String("repo", "", "local path or git URL (git), owner/name (github), group/project (gitlab)")
	fs.String("branch", "", "branch to walk (git); all refs when empty")
	fs.String("trunk-branch", "", "branch that counts as trunk")
	fs.String("since", "", "window start, inclusive (YYYY-MM-DD or RFC3339)")
	fs.String("until", "", "window end, exclusive (YYYY-MM-DD or RFC3339)")
	fs.StringP("output", "o", "", "output CSV path")
	fs.Int("max-records", 0, "stop after examining this many records (default 50, -1 = no cap)")
	fs.Int("label-limit", 0, "maximum model calls per run (0 = no limit)")
	fs.String("label-cache", "", "JSONL label cache path")
	fs.String("rules-glossary", "", "YAML file with extra rule phrases")
	fs.String("llm-provider", "", "anthropic, openai or deepseek")
	fs.String("llm-model", "", "model name for the provider")
	fs.StringSlice("compare-providers", nil, "two providers to compare")
	fs.String("history-db", "", "SQLite run history path (empty disables)")
	fs.String("schedule", "", "cron expression; run repeatedly instead of once")
	fs.String("metrics-addr", "", "listen address for Prometheus metrics (empty disables)")
}

// Load reads configPath (or CONFIG_PATH, or ./config.yaml), applies env
// overrides, then flags that were set on fs, then defaults, then validates.
func Load(configPath string, fs *pflag.FlagSet) (Config, error) {
	var cfg Config

	explicit := configPath != ""
	if configPath == "" {
		configPath = "config.yaml"
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
		}
	}
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("reading %s: %w", configPath, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if fs != nil {
		if err := applyFlags(&cfg, fs); err != nil {
			return cfg, err
		}
	}
	if err := applyDefaults(&cfg, time.Now()); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.Source, "CHANGELABEL_SOURCE")
	envOverride(&cfg.Repo, "CHANGELABEL_REPO")
	envOverride(&cfg.Branch, "CHANGELABEL_BRANCH")
	envOverride(&cfg.TrunkBranch, "CHANGELABEL_TRUNK_BRANCH")
	envOverride(&cfg.Since, "CHANGELABEL_SINCE")
	envOverride(&cfg.Until, "CHANGELABEL_UNTIL")
	envOverride(&cfg.Output, "CHANGELABEL_OUTPUT")
	envOverride(&cfg.LabelCachePath, "LABEL_CACHE_PATH")
	envOverride(&cfg.RulesGlossaryPath, "RULES_GLOSSARY_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	envOverride(&cfg.GitHubToken, "GITHUB_TOKEN")
	envOverride(&cfg.GitLabURL, "GITLAB_URL")
	envOverride(&cfg.GitLabToken, "GITLAB_TOKEN")
	envOverride(&cfg.HistoryDBPath, "HISTORY_DB_PATH")
	envOverride(&cfg.Schedule, "CHANGELABEL_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.LibrariesIOAPIKey, "LIBRARIES_IO_API_KEY")

	if providers := os.Getenv("COMPARE_PROVIDERS"); providers != "" {
		cfg.CompareProviders = splitList(providers)
	}

	for _, err := range []error{
		envOverrideInt(&cfg.MaxRecords, "MAX_RECORDS"),
		envOverrideInt(&cfg.LabelLimit, "LABEL_LIMIT"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
		envOverrideFloat(&cfg.LLMInputCostPerMillion, "LLM_INPUT_COST_PER_MILLION"),
		envOverrideFloat(&cfg.LLMOutputCostPerMillion, "LLM_OUTPUT_COST_PER_MILLION"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	strFlags := map[string]*string{
		"source":         &cfg.Source,
		"repo":           &cfg.Repo,
		"branch":         &cfg.Branch,
		"trunk-branch":   &cfg.TrunkBranch,
		"since":          &cfg.Since,
		"until":          &cfg.Until,
		"output":         &cfg.Output,
		"label-cache":    &cfg.LabelCachePath,
		"rules-glossary": &cfg.RulesGlossaryPath,
		"llm-provider":   &cfg.LLMProvider,
		"llm-model":      &cfg.LLMModel,
		"history-db":     &cfg.HistoryDBPath,
		"schedule":       &cfg.Schedule,
		"metrics-addr":   &cfg.MetricsAddr,
	}
	for name, field := range strFlags {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*field = v
	}

	intFlags := map[string]*int{
		"max-records": &cfg.MaxRecords,
		"label-limit": &cfg.LabelLimit,
	}
	for name, field := range intFlags {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*field = v
	}

	if fs.Lookup("compare-providers") != nil && fs.Changed("compare-providers") {
		v, err := fs.GetStringSlice("compare-providers")
		if err != nil {
			return err
		}
		cfg.CompareProviders = v
	}
	return nil
}

func applyDefaults(cfg *Config, now time.Time) error {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceGitHub
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if len(cfg.CompareProviders) == 0 {
		cfg.CompareProviders = []string{"openai", "deepseek"}
	}
	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.LabelCachePath == "" {
		cfg.LabelCachePath = defaultLabelCachePath(cfg.Source, cfg.Repo)
	}
	if cfg.LLMInputCostPerMillion == 0 {
		cfg.LLMInputCostPerMillion = 0.25
	}
	if cfg.LLMOutputCostPerMillion == 0 {
		cfg.LLMOutputCostPerMillion = 2.00
	}
	if cfg.GitLabURL == "" {
		cfg.GitLabURL = "https://gitlab.com"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}

	window, err := cfg.WindowAt(now)
	if err != nil {
		return err
	}
	cfg.Window = window
	return nil
}

// WindowAt resolves since and until against now. Without an explicit since,
// hosted sources look back from now, so each scheduled run moves forward.
func (c Config) WindowAt(now time.Time) (domain.Window, error) {
	since, err := parseDate(c.Since)
	if err != nil {
		return domain.Window{}, fmt.Errorf("invalid since '%s': %w", c.Since, err)
	}
	until, err := parseDate(c.Until)
	if err != nil {
		return domain.Window{}, fmt.Errorf("invalid until '%s': %w", c.Until, err)
	}
	if since.IsZero() && c.Source != SourceGit {
		since = now.UTC().Add(-defaultHostedLookback).Truncate(24 * time.Hour)
	}
	return domain.Window{Since: since, Until: until}, nil
}

func (c Config) validate() error {
	switch c.Source {
	case SourceGit, SourceGitHub, SourceGitLab:
	default:
		return fmt.Errorf("source must be 'git', 'github' or 'gitlab', got '%s'", c.Source)
	}
	if c.MaxRecords < NoRecordCap {
		return fmt.Errorf("invalid max_records '%d': must be positive, or -1 for no cap", c.MaxRecords)
	}
	if c.LabelLimit < 0 {
		return fmt.Errorf("invalid label_limit '%d': must be >= 0", c.LabelLimit)
	}
	if c.LLMInputCostPerMillion < 0 || c.LLMOutputCostPerMillion < 0 {
		return fmt.Errorf("llm cost rates must be >= 0")
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if !c.Window.Since.IsZero() && !c.Window.Until.IsZero() && !c.Window.Since.Before(c.Window.Until) {
		return fmt.Errorf("since (%s) must be before until (%s)", c.Since, c.Until)
	}
	if len(c.CompareProviders) != 2 {
		return fmt.Errorf("compare_providers needs exactly two providers, got %d", len(c.CompareProviders))
	}
	if c.SlackBotToken != "" && c.ReportChannelID == "" {
		return fmt.Errorf("slack_bot_token is set but report_channel_id is not")
	}
	return nil
}

// APIKeyFor returns the configured key for a model provider.
func (c Config) APIKeyFor(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "deepseek":
		return c.DeepSeekAPIKey
	}
	return ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

// PR and MR numbers repeat across repositories, so hosted sources get one
// cache file per repository.
func defaultLabelCachePath(source, repo string) string {
	if source == SourceGit || strings.TrimSpace(repo) == "" {
		return "./data/label_cache.jsonl"
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, strings.Trim(strings.TrimSpace(repo), "/"))
	return "./data/label_cache_" + source + "_" + name + ".jsonl"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDate accepts YYYY-MM-DD (midnight UTC) or RFC3339. Empty is zero.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
