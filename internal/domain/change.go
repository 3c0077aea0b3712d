package domain

import (
	"errors"
	"strings"
	"time"
)

type ChangeKind string

const (
	KindCommit       ChangeKind = "commit"
	KindPullRequest  ChangeKind = "pull_request"
	KindMergeRequest ChangeKind = "merge_request"
)

// ChangeRecord is a single commit or proposed change as fetched from a source.
// Records are never modified after the source hands them out.
type ChangeRecord struct {
	ID          string
	Kind        ChangeKind
	Title       string
	Body        string
	Author      string
	URL         string
	AuthoredAt  time.Time
	FinalizedAt time.Time // merge time for PRs/MRs, author time for commits
	Finalized   bool      // merged (PR/MR) or committed
	MergeCommit bool
	OnTrunk     bool

	FilesChanged int
	Additions    int
	Deletions    int
}

// ErrWindowExhausted is returned by a source once it reaches records older
// than the start of the requested window. It ends a run cleanly.
var ErrWindowExhausted = errors.New("reached records older than window start")

// Window is the half-open interval [Since, Until). A zero bound is open.
type Window struct {
	Since time.Time
	Until time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && !t.Before(w.Until) {
		return false
	}
	return true
}

// OneLine collapses all whitespace runs in a commit message into single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitMessage splits a commit message into its subject line and body.
func SplitMessage(msg string) (string, string) {
	msg = strings.TrimSpace(msg)
	subject, body, _ := strings.Cut(msg, "\n")
	return strings.TrimSpace(subject), strings.TrimSpace(body)
}
