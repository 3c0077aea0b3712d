// Package pipeline drives one classification run: it pulls change records from
// a source and resolves each one through the label cache, the rule classifier
// and, last, the model classifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"changelabel/internal/domain"
	"changelabel/internal/integrations/llm"
)

type Source interface {
	Next(ctx context.Context) (domain.ChangeRecord, error)
}

type Cache interface {
	Lookup(id string) (domain.CacheEntry, bool)
	Append(entry domain.CacheEntry) error
}

type RuleClassifier interface {
	Classify(title, body string) domain.Decision
}

// History receives every classified record. It is write-only; the run never
// reads it back.
type History interface {
	InsertClassification(ctx context.Context, rec domain.HistoryRecord) (int64, error)
}

// State is the terminal state of one record.
type State string

const (
	StateSkipped        State = "skipped"
	StateCacheHit       State = "cache_hit"
	StateRuleMatched    State = "rule_matched"
	StateModelSucceeded State = "model_succeeded"
	StateModelFailed    State = "model_failed"
	StateDeferred       State = "deferred"
)

const (
	SkipNotFinalized = "not_finalized"
	SkipMergeCommit  = "merge_commit"
	SkipOutsideRange = "outside_window"
)

type StopReason string

const (
	StopSourceExhausted StopReason = "source_exhausted"
	StopWindowExhausted StopReason = "window_exhausted"
	StopRecordCap       StopReason = "record_cap"
	StopCanceled        StopReason = "canceled"
)

// Row is one classified record as it goes to the report.
type Row struct {
	Record   domain.ChangeRecord
	Result   domain.ClassificationResult
	Method   domain.Method
	Cost     float64
	CallID   string
	Provider string
	Model    string
}

type Summary struct {
	Examined   int
	Classified int
	Failed     int
	Deferred   int
	ModelCalls int
	Skipped    map[string]int
	ByLabel    map[domain.Label]int
	ByMethod   map[domain.Method]int
	TotalCost  float64
	StopReason StopReason
	Rows       []Row
	Failures   []Failure
}

type Failure struct {
	ID  string
	Err error
}

func newSummary() Summary {
	return Summary{
		Skipped:  make(map[string]int),
		ByLabel:  make(map[domain.Label]int),
		ByMethod: make(map[domain.Method]int),
	}
}

type LabelCount struct {
	Label domain.Label
	Count int
}

// LabelsByCount orders labels most common first, ties by name.
func (s Summary) LabelsByCount() []LabelCount {
	out := make([]LabelCount, 0, len(s.ByLabel))
	for l, n := range s.ByLabel {
		out = append(out, LabelCount{Label: l, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

type Pipeline struct {
	Source Source
	Cache  Cache
	Rules  RuleClassifier
	// Model may be nil; records that reach it are then deferred.
	Model  llm.Classifier
	Window domain.Window
	// MaxRecords caps records pulled from the source. Zero or less means no cap.
	MaxRecords int
	// LabelLimit caps model calls. Zero means no cap.
	LabelLimit int
	History    History
	RunID      int64

	now func() time.Time
}

// Run processes records one at a time until the source ends, the window is
// exhausted, the record cap is hit or ctx is canceled. Per-record model
// failures are counted and do not stop the run; any other source error does.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if p.Source == nil || p.Cache == nil || p.Rules == nil {
		return Summary{}, fmt.Errorf("pipeline needs a source, a cache and rules")
	}
	sum := newSummary()

	for {
		if err := ctx.Err(); err != nil {
			sum.StopReason = StopCanceled
			log.Printf("pipeline stop reason=%s examined=%d", sum.StopReason, sum.Examined)
			return sum, nil
		}

		rec, err := p.Source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			sum.StopReason = StopSourceExhausted
		case errors.Is(err, domain.ErrWindowExhausted):
			sum.StopReason = StopWindowExhausted
		case err != nil:
			if ctx.Err() != nil {
				sum.StopReason = StopCanceled
				return sum, nil
			}
			return sum, fmt.Errorf("reading change records: %w", err)
		}
		if sum.StopReason != "" {
			log.Printf("pipeline stop reason=%s examined=%d", sum.StopReason, sum.Examined)
			return sum, nil
		}

		if p.MaxRecords > 0 && sum.Examined >= p.MaxRecords {
			sum.StopReason = StopRecordCap
			log.Printf("pipeline stop reason=%s max_records=%d", sum.StopReason, p.MaxRecords)
			return sum, nil
		}
		sum.Examined++
		recordExamined()

		p.process(ctx, rec, &sum)
	}
}

func (p *Pipeline) process(ctx context.Context, rec domain.ChangeRecord, sum *Summary) {
	if reason := p.skipReason(rec); reason != "" {
		sum.Skipped[reason]++
		recordSkipped(reason)
		return
	}

	if entry, ok := p.Cache.Lookup(rec.ID); ok {
		p.accept(ctx, sum, Row{
			Record:   rec,
			Result:   entry.Result(),
			Method:   domain.MethodCache,
			CallID:   entry.CallID,
			Provider: entry.Provider,
			Model:    entry.Model,
		})
		log.Printf("pipeline record id=%s state=%s label=%s", rec.ID, StateCacheHit, entry.Label)
		return
	}

	if label, ok := p.Rules.Classify(rec.Title, rec.Body).Label(); ok {
		p.accept(ctx, sum, Row{
			Record: rec,
			Result: domain.ClassificationResult{Label: label},
			Method: domain.MethodRegex,
		})
		log.Printf("pipeline record id=%s state=%s label=%s", rec.ID, StateRuleMatched, label)
		return
	}

	if p.Model == nil || (p.LabelLimit > 0 && sum.ModelCalls >= p.LabelLimit) {
		sum.Deferred++
		recordDeferred()
		log.Printf("pipeline record id=%s state=%s", rec.ID, StateDeferred)
		return
	}

	sum.ModelCalls++
	started := time.Now()
	out, err := p.Model.Classify(ctx, rec.Title, rec.Body)
	recordModelCall(time.Since(started).Seconds(), out.Cost)
	// A failed call may still have been billed.
	sum.TotalCost += out.Cost
	if err != nil {
		sum.Failed++
		sum.Failures = append(sum.Failures, Failure{ID: rec.ID, Err: err})
		recordModelFailure()
		log.Printf("pipeline record id=%s state=%s err=%v", rec.ID, StateModelFailed, err)
		return
	}

	entry := domain.CacheEntry{
		ID:         rec.ID,
		Label:      out.Result.Label,
		Confidence: out.Result.Confidence,
		Rationale:  out.Result.Rationale,
		Text:       cacheText(rec),
		Provider:   out.Provider,
		Model:      out.Model,
		CallID:     out.CallID,
		CachedAt:   p.clock(),
	}
	if err := p.Cache.Append(entry); err != nil {
		// The label is still reported; the next run pays for it again.
		log.Printf("pipeline record id=%s cache append failed: %v", rec.ID, err)
	}

	p.accept(ctx, sum, Row{
		Record:   rec,
		Result:   out.Result,
		Method:   domain.MethodLLM,
		Cost:     out.Cost,
		CallID:   out.CallID,
		Provider: out.Provider,
		Model:    out.Model,
	})
	log.Printf("pipeline record id=%s state=%s label=%s method=llm cost=%.5f", rec.ID, StateModelSucceeded, out.Result.Label, out.Cost)
}

func (p *Pipeline) skipReason(rec domain.ChangeRecord) string {
	switch {
	case !rec.Finalized:
		return SkipNotFinalized
	case rec.MergeCommit:
		return SkipMergeCommit
	case !p.Window.Contains(rec.FinalizedAt):
		return SkipOutsideRange
	}
	return ""
}

func (p *Pipeline) accept(ctx context.Context, sum *Summary, row Row) {
	sum.Classified++
	sum.ByLabel[row.Result.Label]++
	sum.ByMethod[row.Method]++
	sum.Rows = append(sum.Rows, row)
	recordClassified(string(row.Method))

	if p.History == nil {
		return
	}
	_, err := p.History.InsertClassification(ctx, domain.HistoryRecord{
		RunID:        p.RunID,
		ChangeID:     row.Record.ID,
		Title:        row.Record.Title,
		Label:        row.Result.Label,
		Method:       row.Method,
		Confidence:   row.Result.Confidence,
		Rationale:    row.Result.Rationale,
		Provider:     row.Provider,
		Model:        row.Model,
		Cost:         row.Cost,
		FinalizedAt:  row.Record.FinalizedAt,
		ClassifiedAt: p.clock(),
	})
	if err != nil {
		log.Printf("pipeline record id=%s history insert failed: %v", row.Record.ID, err)
	}
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func cacheText(rec domain.ChangeRecord) string {
	return domain.OneLine(strings.TrimSpace(rec.Title + "\n" + rec.Body))
}
