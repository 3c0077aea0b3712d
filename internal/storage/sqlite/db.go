// Package sqlite keeps an optional history of runs and classified records.
// It is an audit trail only; the label cache remains the sole source of
// cached classifications.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"changelabel/internal/domain"
)

type Store struct {
	db *sql.DB
}

func InitDB(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		source      TEXT NOT NULL,
		repo        TEXT NOT NULL,
		started_at  DATETIME NOT NULL,
		finished_at DATETIME,
		stop_reason TEXT DEFAULT '',
		examined    INTEGER DEFAULT 0,
		classified  INTEGER DEFAULT 0,
		failed      INTEGER DEFAULT 0,
		cost        REAL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS classification_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        INTEGER NOT NULL,
		change_id     TEXT NOT NULL,
		title         TEXT DEFAULT '',
		label         TEXT NOT NULL,
		method        TEXT NOT NULL,
		confidence    REAL,
		rationale     TEXT DEFAULT '',
		llm_provider  TEXT DEFAULT '',
		llm_model     TEXT DEFAULT '',
		cost          REAL DEFAULT 0,
		finalized_at  DATETIME,
		classified_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ch_run ON classification_history(run_id);
	CREATE INDEX IF NOT EXISTS idx_ch_change ON classification_history(change_id);
	CREATE INDEX IF NOT EXISTS idx_ch_date ON classification_history(classified_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) StartRun(ctx context.Context, run domain.RunRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (source, repo, started_at) VALUES (?, ?, ?)`,
		run.Source, run.Repo, run.StartedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) FinishRun(ctx context.Context, run domain.RunRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, stop_reason = ?, examined = ?, classified = ?, failed = ?, cost = ?
		 WHERE id = ?`,
		run.FinishedAt.UTC(), run.StopReason, run.Examined, run.Classified, run.Failed, run.Cost, run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (domain.RunRecord, error) {
	var r domain.RunRecord
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, repo, started_at, finished_at, stop_reason, examined, classified, failed, cost
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Source, &r.Repo, &r.StartedAt, &finished, &r.StopReason,
		&r.Examined, &r.Classified, &r.Failed, &r.Cost)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, err
}

func (s *Store) InsertClassification(ctx context.Context, rec domain.HistoryRecord) (int64, error) {
	var confidence sql.NullFloat64
	if rec.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}
	var finalized sql.NullTime
	if !rec.FinalizedAt.IsZero() {
		finalized = sql.NullTime{Time: rec.FinalizedAt.UTC(), Valid: true}
	}
	classifiedAt := rec.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO classification_history
		 (run_id, change_id, title, label, method, confidence, rationale, llm_provider, llm_model, cost, finalized_at, classified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ChangeID, rec.Title, string(rec.Label), string(rec.Method), confidence,
		rec.Rationale, rec.Provider, rec.Model, rec.Cost, finalized, classifiedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting classification %s: %w", rec.ChangeID, err)
	}
	return res.LastInsertId()
}

func (s *Store) GetLatestClassification(ctx context.Context, changeID string) (domain.HistoryRecord, error) {
	var r domain.HistoryRecord
	var label, method string
	var confidence sql.NullFloat64
	var finalized sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, change_id, title, label, method, confidence, rationale,
		        llm_provider, llm_model, cost, finalized_at, classified_at
		 FROM classification_history
		 WHERE change_id = ?
		 ORDER BY classified_at DESC, id DESC LIMIT 1`,
		changeID,
	).Scan(
		&r.ID, &r.RunID, &r.ChangeID, &r.Title, &label, &method, &confidence, &r.Rationale,
		&r.Provider, &r.Model, &r.Cost, &finalized, &r.ClassifiedAt,
	)
	if err != nil {
		return r, err
	}
	r.Label = domain.Label(label)
	r.Method = domain.Method(method)
	if confidence.Valid {
		r.Confidence = domain.Confidence(confidence.Float64)
	}
	if finalized.Valid {
		r.FinalizedAt = finalized.Time
	}
	return r, nil
}

// GetLabelCounts groups everything classified at or after since by label and
// method, largest groups first.
func (s *Store) GetLabelCounts(ctx context.Context, since time.Time) ([]domain.LabelCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, method, COUNT(*) as cnt
		 FROM classification_history
		 WHERE classified_at >= ?
		 GROUP BY label, method
		 ORDER BY cnt DESC, label, method`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LabelCount
	for rows.Next() {
		var label, method string
		var c domain.LabelCount
		if err := rows.Scan(&label, &method, &c.Count); err != nil {
			return nil, err
		}
		c.Label = domain.Label(label)
		c.Method = domain.Method(method)
		out = append(out, c)
	}
	return out, rows.Err()
}

type ClassificationStats struct {
	TotalClassifications int
	ModelClassifications int
	TotalCost            float64
	AvgConfidence        float64
	BucketBelow50        int
	Bucket50to70         int
	Bucket70to90         int
	Bucket90Plus         int
}

// GetClassificationStats buckets model confidence. Rule matches carry no
// confidence and only count toward the total.
func (s *Store) GetClassificationStats(ctx context.Context, since time.Time) (ClassificationStats, error) {
	var st ClassificationStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(confidence), COALESCE(SUM(cost), 0), COALESCE(AVG(confidence), 0),
		        COALESCE(SUM(CASE WHEN confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.50 AND confidence < 0.70 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.70 AND confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM classification_history WHERE classified_at >= ?`,
		since.UTC(),
	).Scan(&st.TotalClassifications, &st.ModelClassifications, &st.TotalCost, &st.AvgConfidence,
		&st.BucketBelow50, &st.Bucket50to70, &st.Bucket70to90, &st.Bucket90Plus)
	return st, err
}
