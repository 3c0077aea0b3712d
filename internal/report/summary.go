package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"changelabel/internal/domain"
	"changelabel/internal/pipeline"
	"changelabel/internal/storage/sqlite"
)

// RunInfo is context printed alongside a pipeline summary.
type RunInfo struct {
	Source     string
	Repo       string
	RateLimit  string
	OutputPath string
}

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	warnColor    = color.New(color.FgYellow)
	costColor    = color.New(color.FgGreen)
)

var methodOrder = []domain.Method{domain.MethodCache, domain.MethodRegex, domain.MethodLLM}

func PrintSummary(w io.Writer, sum pipeline.Summary, info RunInfo) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n", rule)
	headingColor.Fprintln(w, "CLASSIFICATION SUMMARY")
	fmt.Fprintf(w, "%s\n", rule)
	if info.Repo != "" {
		fmt.Fprintf(w, "\nSource: %s %s\n", info.Source, info.Repo)
	}

	fmt.Fprintf(w, "\nRecords examined:  %d\n", sum.Examined)
	fmt.Fprintf(w, "Total classified:  %d\n", sum.Classified)

	if sum.Classified > 0 {
		fmt.Fprintf(w, "\nBy category:\n")
		for _, lc := range sum.LabelsByCount() {
			fmt.Fprintf(w, "  %-20s %3d\n", lc.Label, lc.Count)
		}

		fmt.Fprintf(w, "\nClassification method:\n")
		for _, m := range methodOrder {
			n := sum.ByMethod[m]
			if n == 0 {
				continue
			}
			fmt.Fprintf(w, "  %-10s %3d (%.1f%%)\n", m, n, 100*float64(n)/float64(sum.Classified))
		}
	}

	if len(sum.Skipped) > 0 {
		reasons := make([]string, 0, len(sum.Skipped))
		for r := range sum.Skipped {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-20s %3d\n", r, sum.Skipped[r])
		}
	}
	if sum.Failed > 0 {
		warnColor.Fprintf(w, "\nModel failures: %d (not cached, retried next run)\n", sum.Failed)
	}
	if sum.Deferred > 0 {
		warnColor.Fprintf(w, "Deferred by label limit: %d\n", sum.Deferred)
	}

	fmt.Fprintf(w, "\nStopped: %s\n", stopDescription(sum.StopReason))
	if info.RateLimit != "" {
		fmt.Fprintf(w, "GitHub API requests remaining: %s\n", info.RateLimit)
	}
	fmt.Fprintf(w, "Model calls: %d\n", sum.ModelCalls)
	costColor.Fprintf(w, "Total API cost (this run): %.5f\n", sum.TotalCost)
	if info.OutputPath != "" {
		fmt.Fprintf(w, "\nResults saved to: %s\n", info.OutputPath)
	}
}

func stopDescription(r pipeline.StopReason) string {
	switch r {
	case pipeline.StopSourceExhausted:
		return "no more records"
	case pipeline.StopWindowExhausted:
		return "reached records older than the window start"
	case pipeline.StopRecordCap:
		return "hit the record cap"
	case pipeline.StopCanceled:
		return "canceled"
	}
	return string(r)
}

// PrintHistory renders what the history database holds since a point in time.
func PrintHistory(w io.Writer, since time.Time, counts []domain.LabelCount, stats sqlite.ClassificationStats) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n", rule)
	headingColor.Fprintln(w, "CLASSIFICATION HISTORY")
	fmt.Fprintf(w, "%s\n", rule)
	if since.IsZero() {
		fmt.Fprintf(w, "\nAll recorded runs\n")
	} else {
		fmt.Fprintf(w, "\nSince %s\n", since.Format("2006-01-02"))
	}

	fmt.Fprintf(w, "\nTotal classified:  %d\n", stats.TotalClassifications)
	if len(counts) > 0 {
		fmt.Fprintf(w, "\nBy category and method:\n")
		for _, c := range counts {
			fmt.Fprintf(w, "  %-20s %-6s %4d\n", c.Label, c.Method, c.Count)
		}
	}
	if stats.ModelClassifications > 0 {
		fmt.Fprintf(w, "\nConfidence (%d with a score, avg %.2f):\n", stats.ModelClassifications, stats.AvgConfidence)
		fmt.Fprintf(w, "  %-10s %4d\n", "<0.50", stats.BucketBelow50)
		fmt.Fprintf(w, "  %-10s %4d\n", "0.50-0.70", stats.Bucket50to70)
		fmt.Fprintf(w, "  %-10s %4d\n", "0.70-0.90", stats.Bucket70to90)
		fmt.Fprintf(w, "  %-10s %4d\n", ">=0.90", stats.Bucket90Plus)
	}
	costColor.Fprintf(w, "\nTotal API cost: %.5f\n", stats.TotalCost)
}
