// Package runstore keeps a SQLite history of finished sprint runs.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"github.com/hochfrequenz/sprint-orch/internal/selection"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by GetRun for an unknown id
var ErrNotFound = errors.New("run not found")

// Item buckets
const (
	BucketProcessed   = "processed"
	BucketFailed      = "failed"
	BucketSkipped     = "skipped"
	BucketFetchFailed = "fetch_failed"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// RunRecord is one stored run
type RunRecord struct {
	ID                 string
	Repo               string
	Status             domain.RunStatus
	Selection          string
	StartedAt          time.Time
	FinishedAt         time.Time
	SelectedCount      int
	ProcessedCount     int
	FailedCount        int
	SkippedCount       int
	FetchFailedCount   int
	ReviewRequestCount int
	AvgTimePerItem     time.Duration
	RetryCount         int
	ReportPath         string
	Items              []ItemRecord
}

// Duration returns the wall-clock run time
func (r RunRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ItemRecord is one item of a stored run
type ItemRecord struct {
	Number   int
	Bucket   string
	Reason   string
	PRNumber int
	PRURL    string
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a finished run and its items, replacing an earlier save of the same run
func (s *Store) SaveRun(run domain.RunSnapshot, reportPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO runs (id, repo, status, selection, started_at, finished_at,
			selected_count, processed_count, failed_count, skipped_count, fetch_failed_count,
			review_request_count, avg_item_ms, retry_count, report_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Repo,
		string(run.Status),
		selection.Format(run.Selected),
		nullTime(run.StartedAt.UTC()),
		nullTime(run.FinishedAt.UTC()),
		len(run.Selected),
		len(run.Processed),
		len(run.Failed),
		len(run.Skipped),
		len(run.FetchFailed),
		len(run.ReviewRequests),
		run.Metrics.AvgTimePerItem.Milliseconds(),
		run.Metrics.RetryCount,
		reportPath,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO run_items (run_id, item_number, bucket, reason, pr_number, pr_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range itemsOf(run) {
		if _, err := stmt.Exec(run.ID, item.Number, item.Bucket, item.Reason, item.PRNumber, item.PRURL); err != nil {
			return fmt.Errorf("insert item #%d: %w", item.Number, err)
		}
	}

	return tx.Commit()
}

func itemsOf(run domain.RunSnapshot) []ItemRecord {
	var items []ItemRecord
	for _, n := range run.Processed {
		item := ItemRecord{Number: n, Bucket: BucketProcessed}
		if rr, ok := run.ReviewRequestFor(n); ok {
			item.PRNumber = rr.Number
			item.PRURL = rr.URL
		}
		items = append(items, item)
	}
	for _, f := range run.Failed {
		items = append(items, ItemRecord{Number: f.Number, Bucket: BucketFailed, Reason: f.Reason})
	}
	for _, sk := range run.Skipped {
		items = append(items, ItemRecord{Number: sk.Number, Bucket: BucketSkipped, Reason: sk.Reason})
	}
	for _, f := range run.FetchFailed {
		items = append(items, ItemRecord{Number: f.Number, Bucket: BucketFetchFailed, Reason: f.Reason})
	}
	return items
}

const runColumns = `id, repo, status, selection, started_at, finished_at,
	selected_count, processed_count, failed_count, skipped_count, fetch_failed_count,
	review_request_count, avg_item_ms, retry_count, report_path`

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run including its items ordered by item number
func (s *Store) GetRun(id string) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT item_number, bucket, reason, pr_number, pr_url
		FROM run_items WHERE run_id = ? ORDER BY item_number
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item ItemRecord
		var reason, prURL sql.NullString
		var prNumber sql.NullInt64
		if err := rows.Scan(&item.Number, &item.Bucket, &reason, &prNumber, &prURL); err != nil {
			return nil, err
		}
		item.Reason = reason.String
		item.PRNumber = int(prNumber.Int64)
		item.PRURL = prURL.String
		run.Items = append(run.Items, item)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var run RunRecord
	var status string
	var startedAt, finishedAt sql.NullTime
	var avgMs int64
	var reportPath sql.NullString

	err := row.Scan(&run.ID, &run.Repo, &status, &run.Selection, &startedAt, &finishedAt,
		&run.SelectedCount, &run.ProcessedCount, &run.FailedCount, &run.SkippedCount, &run.FetchFailedCount,
		&run.ReviewRequestCount, &avgMs, &run.RetryCount, &reportPath)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if startedAt.Valid {
		run.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	run.AvgTimePerItem = time.Duration(avgMs) * time.Millisecond
	run.ReportPath = reportPath.String
	return &run, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
