package compare

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

func PrintResult(w io.Writer, res Result) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n", rule)
	color.New(color.FgCyan, color.Bold).Fprintln(w, "COMPARISON SUMMARY")
	fmt.Fprintf(w, "%s\n", rule)

	fmt.Fprintf(w, "\nTotal records compared: %d (examined %d)\n", len(res.Rows), res.Examined)
	for _, side := range []struct {
		name  string
		first bool
	}{{res.NameA, true}, {res.NameB, false}} {
		fmt.Fprintf(w, "\n%s categories:\n", side.name)
		for _, c := range res.Counts(side.first) {
			fmt.Fprintf(w, "  %-20s %3d\n", c.Label, c.Count)
		}
	}

	fmt.Fprintf(w, "\nAgreement: %d/%d (%.1f%%)\n", res.Agreements(), len(res.Rows), 100*res.AgreementRate())
	if len(res.Failures) > 0 {
		color.New(color.FgYellow).Fprintf(w, "Failed calls: %d\n", len(res.Failures))
	}

	if dis := res.Disagreements(maxDisagreementsShown); len(dis) > 0 {
		fmt.Fprintf(w, "\nDisagreements (manual review needed):\n")
		for _, row := range dis {
			fmt.Fprintf(w, "  #%s %-50.50s %s=%s %s=%s\n", row.Record.ID, row.Record.Title, res.NameA, row.A.Label, res.NameB, row.B.Label)
		}
	}
	color.New(color.FgGreen).Fprintf(w, "\nTotal API cost (this run): %.5f\n", res.TotalCost)
}
