// Package slackbot posts run summaries to a Slack channel.
package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"changelabel/internal/pipeline"
)

type Notifier struct {
	api *slack.Client
}

func New(token string, opts ...slack.Option) *Notifier {
	return &Notifier{api: slack.New(token, opts...)}
}

func (n *Notifier) PostSummary(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("no report channel configured")
	}
	_, _, err := n.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("posting summary: %w", err)
	}
	return nil
}

// FormatRunSummary renders a pipeline summary as one Slack message.
func FormatRunSummary(repo string, sum pipeline.Summary, runErr error) string {
	if runErr != nil && sum.Examined == 0 {
		return fmt.Sprintf("Classification run for %s failed: %v", repo, runErr)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classified %d of %d changes in %s", sum.Classified, sum.Examined, repo)
	if sum.Classified > 0 {
		var parts []string
		for _, lc := range sum.LabelsByCount() {
			parts = append(parts, fmt.Sprintf("%s %d", lc.Label, lc.Count))
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, ", "))
	}
	b.WriteString(".")

	var notes []string
	if sum.Failed > 0 {
		notes = append(notes, fmt.Sprintf("%d model failures", sum.Failed))
	}
	if sum.Deferred > 0 {
		notes = append(notes, fmt.Sprintf("%d deferred", sum.Deferred))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
	}
	fmt.Fprintf(&b, "\nModel calls: %d, cost: $%.5f, stopped: %s", sum.ModelCalls, sum.TotalCost, sum.StopReason)
	if runErr != nil {
		fmt.Fprintf(&b, "\nWarning: %v", runErr)
	}
	return b.String()
}
