package domain

import "time"

// CacheEntry is a persisted model classification keyed by change identifier.
// The JSON names match label cache files written by earlier tooling.
type CacheEntry struct {
	ID         string    `json:"hash"`
	Label      Label     `json:"label"`
	Confidence *float64  `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Text       string    `json:"msg"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	CallID     string    `json:"call_id,omitempty"`
	CachedAt   time.Time `json:"cached_at,omitempty"`
}

func (e CacheEntry) Result() ClassificationResult {
	return ClassificationResult{
		Label:      e.Label,
		Confidence: e.Confidence,
		Rationale:  e.Rationale,
	}
}

// HistoryRecord is one classified row stored in the run history database.
type HistoryRecord struct {
	ID           int64
	RunID        int64
	ChangeID     string
	Title        string
	Label        Label
	Method       Method
	Confidence   *float64
	Rationale    string
	Provider     string
	Model        string
	Cost         float64
	FinalizedAt  time.Time
	ClassifiedAt time.Time
}

type RunRecord struct {
	ID         int64
	Source     string
	Repo       string
	StartedAt  time.Time
	FinishedAt time.Time
	StopReason string
	Examined   int
	Classified int
	Failed     int
	Cost       float64
}

type LabelCount struct {
	Label  Label
	Method Method
	Count  int
}
