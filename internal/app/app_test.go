package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changelabel/internal/config"
	"changelabel/internal/domain"
	"changelabel/internal/pipeline"
)

// clearEnv keeps host settings from leaking into config loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "CHANGELABEL_SOURCE", "CHANGELABEL_REPO", "CHANGELABEL_SINCE", "CHANGELABEL_UNTIL",
		"CHANGELABEL_OUTPUT", "CHANGELABEL_SCHEDULE", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL",
		"OPENAI_API_KEY", "LABEL_CACHE_PATH", "HISTORY_DB_PATH", "SLACK_BOT_TOKEN", "REPORT_CHANNEL_ID",
		"METRICS_ADDR", "MAX_RECORDS", "LABEL_LIMIT", "COMPARE_PROVIDERS",
	} {
		t.Setenv(key, "")
	}
}

func gitCmd(t *testing.T, dir, date string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Tester", "GIT_AUTHOR_EMAIL=t@example.com",
		"GIT_COMMITTER_NAME=Tester", "GIT_COMMITTER_EMAIL=t@example.com",
		"GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date,
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func commit(t *testing.T, dir, date, file, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(message+"\n"), 0o644))
	gitCmd(t, dir, date, "add", ".")
	gitCmd(t, dir, date, "commit", "--quiet", "-m", message)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "changelabel dev\n", out.String())
}

func TestClassifyGitRepositoryEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	clearEnv(t)
	color.NoColor = true

	repo := t.TempDir()
	gitCmd(t, repo, "2025-01-01T00:00:00Z", "init", "--quiet", "--initial-branch=main")
	commit(t, repo, "2024-12-20T00:00:00Z", "old.txt", "Add user dashboard before the window")
	commit(t, repo, "2025-01-02T00:00:00Z", "a.txt", "fix: crash when config is missing")
	commit(t, repo, "2025-01-03T00:00:00Z", "b.txt", "Add user dashboard")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"message":{"content":"{\"label\":\"feature\",\"confidence\":0.9,\"rationale\":\"adds a dashboard\"}"}}],"usage":{"prompt_tokens":1000,"completion_tokens":100}}`)
	}))
	defer srv.Close()

	work := t.TempDir()
	output := filepath.Join(work, "out.csv")
	cachePath := filepath.Join(work, "cache", "labels.jsonl")
	cfgPath := filepath.Join(work, "config.yaml")
	cfg := strings.Join([]string{
		"source: git",
		"repo: " + repo,
		"since: 2025-01-01",
		"output: " + output,
		"label_cache_path: " + cachePath,
		"history_db_path: " + filepath.Join(work, "history.db"),
		"llm_provider: openai",
		"openai_api_key: sk-test",
		"llm_base_url: " + srv.URL,
	}, "\n")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	run := func() string {
		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"classify", "--config", cfgPath})
		require.NoError(t, cmd.ExecuteContext(context.Background()))
		return out.String()
	}

	printed := run()
	assert.Contains(t, printed, "CLASSIFICATION SUMMARY")
	assert.EqualValues(t, 1, calls.Load())

	rows := readCSV(t, output)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"identifier", "title", "label", "method", "timestamp", "confidence", "rationale"}, rows[0])
	assert.Equal(t, "Add user dashboard", rows[1][1])
	assert.Equal(t, "feature", rows[1][2])
	assert.Equal(t, "llm", rows[1][3])
	assert.Equal(t, "fix: crash when config is missing", rows[2][1])
	assert.Equal(t, "bug_fix", rows[2][2])
	assert.Equal(t, "regex", rows[2][3])

	cached, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(cached), "\n"))

	run()
	assert.EqualValues(t, 1, calls.Load(), "second run must be served from the cache")
	rows = readCSV(t, output)
	require.Len(t, rows, 3)
	assert.Equal(t, "cache", rows[1][3])
	assert.Equal(t, "feature", rows[1][2])

	var hist bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&hist)
	cmd.SetArgs([]string{"history", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, hist.String(), "CLASSIFICATION HISTORY")
	assert.Contains(t, hist.String(), "Total classified:  4")
	assert.Contains(t, hist.String(), "bug_fix")
}

func TestClassifyFailsWithoutAPIKey(t *testing.T) {
	clearEnv(t)
	work := t.TempDir()
	cfgPath := filepath.Join(work, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("source: github\nrepo: octo/widgets\nllm_provider: anthropic\nlabel_cache_path: "+filepath.Join(work, "c.jsonl")+"\n"), 0o644))
	t.Setenv("ANTHROPIC_API_KEY", "")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"classify", "--config", cfgPath})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is not set")
}

type sliceSource struct {
	recs []domain.ChangeRecord
	end  error
}

func (s *sliceSource) Next(ctx context.Context) (domain.ChangeRecord, error) {
	if len(s.recs) == 0 {
		return domain.ChangeRecord{}, s.end
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func TestMineFiltersRecords(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	src := &sliceSource{end: io.EOF, recs: []domain.ChangeRecord{
		{ID: "a", Finalized: true, FinalizedAt: day(5)},
		{ID: "merge", Finalized: true, MergeCommit: true, FinalizedAt: day(4)},
		{ID: "open", FinalizedAt: day(3)},
		{ID: "late", Finalized: true, FinalizedAt: day(20)},
		{ID: "b", Finalized: true, FinalizedAt: day(2)},
	}}
	window := domain.Window{Since: day(1), Until: day(10)}

	res, err := mine(context.Background(), src, window, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, pipeline.StopSourceExhausted, res.StopReason)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "a", res.Records[0].ID)
	assert.Equal(t, "b", res.Records[1].ID)
}

func TestMineStopReasons(t *testing.T) {
	recs := func() []domain.ChangeRecord {
		return []domain.ChangeRecord{{ID: "1", Finalized: true}, {ID: "2", Finalized: true}, {ID: "3", Finalized: true}}
	}

	res, err := mine(context.Background(), &sliceSource{recs: recs(), end: io.EOF}, domain.Window{}, 2)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StopRecordCap, res.StopReason)
	assert.Equal(t, 2, res.Scanned)

	res, err = mine(context.Background(), &sliceSource{recs: recs(), end: domain.ErrWindowExhausted}, domain.Window{}, 0)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StopWindowExhausted, res.StopReason)
	assert.Len(t, res.Records, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = mine(ctx, &sliceSource{recs: recs(), end: io.EOF}, domain.Window{}, 0)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StopCanceled, res.StopReason)
	assert.Zero(t, res.Scanned)

	_, err = mine(context.Background(), &sliceSource{end: io.ErrUnexpectedEOF}, domain.Window{}, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOutputPrefix(t *testing.T) {
	assert.Equal(t, "commit_classifications", outputPrefix("git"))
	assert.Equal(t, "pr_classifications", outputPrefix("github"))
	assert.Equal(t, "mr_classifications", outputPrefix("gitlab"))
}

func TestCompareClassifiersUseProviderDefaults(t *testing.T) {
	cfg := config.Config{
		LLMProvider:      "anthropic",
		LLMModel:         "claude-custom",
		OpenAIAPIKey:     "sk-openai",
		DeepSeekAPIKey:   "sk-deepseek",
		CompareProviders: []string{"openai", "deepseek"},
	}
	a, b, err := compareClassifiers(cfg)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", a.Provider().Model)
	assert.Equal(t, "deepseek-chat", b.Provider().Model)

	cfg.DeepSeekAPIKey = ""
	_, _, err = compareClassifiers(cfg)
	assert.Error(t, err)
}

func TestScheduledWindowAdvances(t *testing.T) {
	cfg := config.Config{Source: config.SourceGitHub, Repo: "acme/widgets"}
	first, err := withWindowAt(cfg, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	second, err := withWindowAt(first, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, second.Window.Since.Sub(first.Window.Since))

	cfg.Since = "bogus"
	_, err = withWindowAt(cfg, time.Now())
	assert.Error(t, err)
}
