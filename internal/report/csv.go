// Package report writes run results to CSV files and prints run summaries.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"changelabel/internal/compare"
	"changelabel/internal/domain"
	"changelabel/internal/integrations/librariesio"
	"changelabel/internal/pipeline"
)

var ClassificationHeader = []string{"identifier", "title", "label", "method", "timestamp", "confidence", "rationale"}

var CommitInfoHeader = []string{"commit_hash", "author_date", "message", "files_changed", "lines_added", "lines_removed", "in_main_branch"}

var ComparisonHeader = []string{
	"identifier", "title", "timestamp",
	"label_a", "confidence_a", "rationale_a",
	"label_b", "confidence_b", "rationale_b",
	"agree", "cost",
}

var PackageStatsHeader = []string{"platform", "name", "stars", "forks", "subscribers", "repository_url"}

// WriteClassifications writes one row per classified record in run order.
func WriteClassifications(path string, rows []pipeline.Row) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Record.ID,
			r.Record.Title,
			string(r.Result.Label),
			string(r.Method),
			formatTime(r.Record.FinalizedAt),
			formatConfidence(r.Result.Confidence),
			r.Result.Rationale,
		})
	}
	return writeCSV(path, ClassificationHeader, records)
}

// WriteCommitInfo writes mined commits. Messages are collapsed to one line.
func WriteCommitInfo(path string, commits []domain.ChangeRecord) error {
	records := make([][]string, 0, len(commits))
	for _, c := range commits {
		message := c.Title
		if c.Body != "" {
			message += "\n" + c.Body
		}
		records = append(records, []string{
			c.ID,
			formatTime(c.AuthoredAt),
			domain.OneLine(message),
			strconv.Itoa(c.FilesChanged),
			strconv.Itoa(c.Additions),
			strconv.Itoa(c.Deletions),
			strconv.FormatBool(c.OnTrunk),
		})
	}
	return writeCSV(path, CommitInfoHeader, records)
}

func WriteComparisons(path string, rows []compare.Row) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Record.ID,
			r.Record.Title,
			formatTime(r.Record.FinalizedAt),
			string(r.A.Label), formatConfidence(r.A.Confidence), r.A.Rationale,
			string(r.B.Label), formatConfidence(r.B.Confidence), r.B.Rationale,
			strconv.FormatBool(r.Agree()),
			strconv.FormatFloat(r.Cost, 'f', 6, 64),
		})
	}
	return writeCSV(path, ComparisonHeader, records)
}

func WritePackageStats(path string, stats []librariesio.Project) error {
	records := make([][]string, 0, len(stats))
	for _, s := range stats {
		records = append(records, []string{
			s.Platform,
			s.Name,
			strconv.Itoa(s.Stars),
			strconv.Itoa(s.Forks),
			strconv.Itoa(s.Subscribers),
			s.RepositoryURL,
		})
	}
	return writeCSV(path, PackageStatsHeader, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return f.Close()
}

// DefaultOutputName builds names like
// pr_classifications_json_2025-01-01_to_2025-06-30.csv.
func DefaultOutputName(prefix, repo string, since, until time.Time) string {
	name := repoShortName(repo)
	from := "start"
	if !since.IsZero() {
		from = since.Format("2006-01-02")
	}
	to := "now"
	if !until.IsZero() {
		to = until.Format("2006-01-02")
	}
	return sanitizeFilename(fmt.Sprintf("%s_%s_%s_to_%s.csv", prefix, name, from, to))
}

func repoShortName(repo string) string {
	repo = strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(repo), "/"), ".git")
	if i := strings.LastIndexAny(repo, "/:"); i >= 0 {
		repo = repo[i+1:]
	}
	if repo == "" {
		return "repo"
	}
	return repo
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatConfidence(c *float64) string {
	if c == nil {
		return ""
	}
	return strconv.FormatFloat(*c, 'f', -1, 64)
}
