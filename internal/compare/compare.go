// Package compare runs two model classifiers over the same change records and
// measures how often they agree.
package compare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"changelabel/internal/domain"
	"changelabel/internal/integrations/llm"
	"changelabel/internal/pipeline"
)

const maxDisagreementsShown = 10

type Row struct {
	Record domain.ChangeRecord
	A      domain.ClassificationResult
	B      domain.ClassificationResult
	Cost   float64
}

func (r Row) Agree() bool {
	return r.A.Label == r.B.Label
}

type Failure struct {
	ID       string
	Provider string
	Err      error
}

type Result struct {
	NameA      string
	NameB      string
	Examined   int
	Rows       []Row
	Failures   []Failure
	TotalCost  float64
	StopReason pipeline.StopReason
}

func (r Result) Agreements() int {
	n := 0
	for _, row := range r.Rows {
		if row.Agree() {
			n++
		}
	}
	return n
}

// AgreementRate is in [0,1]; zero when nothing was compared.
func (r Result) AgreementRate() float64 {
	if len(r.Rows) == 0 {
		return 0
	}
	return float64(r.Agreements()) / float64(len(r.Rows))
}

// Disagreements returns at most limit rows where the labels differ, in run order.
func (r Result) Disagreements(limit int) []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Agree() {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, row)
	}
	return out
}

// Counts tallies labels for side A (first) or B.
func (r Result) Counts(first bool) []CountEntry {
	m := make(map[domain.Label]int)
	for _, row := range r.Rows {
		if first {
			m[row.A.Label]++
		} else {
			m[row.B.Label]++
		}
	}
	out := make([]CountEntry, 0, len(m))
	for l, n := range m {
		out = append(out, CountEntry{Label: l, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

type CountEntry struct {
	Label domain.Label
	Count int
}

type Comparer struct {
	Source     pipeline.Source
	A          llm.Classifier
	B          llm.Classifier
	NameA      string
	NameB      string
	Window     domain.Window
	MaxRecords int
}

// Run classifies every finalized record in the window with both models. A
// failure on either side drops the record from the comparison but its cost is
// still counted.
func (c *Comparer) Run(ctx context.Context) (Result, error) {
	if c.Source == nil || c.A == nil || c.B == nil {
		return Result{}, fmt.Errorf("compare needs a source and two classifiers")
	}
	res := Result{NameA: c.NameA, NameB: c.NameB}

	for {
		if ctx.Err() != nil {
			res.StopReason = pipeline.StopCanceled
			return res, nil
		}
		rec, err := c.Source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			res.StopReason = pipeline.StopSourceExhausted
			return res, nil
		case errors.Is(err, domain.ErrWindowExhausted):
			res.StopReason = pipeline.StopWindowExhausted
			return res, nil
		case err != nil:
			return res, fmt.Errorf("reading change records: %w", err)
		}
		if c.MaxRecords > 0 && res.Examined >= c.MaxRecords {
			res.StopReason = pipeline.StopRecordCap
			return res, nil
		}
		res.Examined++

		if !rec.Finalized || rec.MergeCommit || !c.Window.Contains(rec.FinalizedAt) {
			continue
		}

		outA, errA := c.A.Classify(ctx, rec.Title, rec.Body)
		outB, errB := c.B.Classify(ctx, rec.Title, rec.Body)
		cost := outA.Cost + outB.Cost
		res.TotalCost += cost
		if errA != nil {
			res.Failures = append(res.Failures, Failure{ID: rec.ID, Provider: c.NameA, Err: errA})
		}
		if errB != nil {
			res.Failures = append(res.Failures, Failure{ID: rec.ID, Provider: c.NameB, Err: errB})
		}
		if errA != nil || errB != nil {
			log.Printf("compare record id=%s failed a=%v b=%v", rec.ID, errA, errB)
			continue
		}

		row := Row{Record: rec, A: outA.Result, B: outB.Result, Cost: cost}
		res.Rows = append(res.Rows, row)
		mark := "agree"
		if !row.Agree() {
			mark = "DISAGREE"
		}
		log.Printf("compare record id=%s %s=%s %s=%s %s cost=%.5f", rec.ID, c.NameA, row.A.Label, c.NameB, row.B.Label, mark, cost)
	}
}
