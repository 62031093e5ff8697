package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is a persisted detection run.
type Run struct {
	ID           string    `json:"id"`
	TestName     string    `json:"test_name"`
	Platform     string    `json:"platform"`
	Branch       string    `json:"branch"`
	BaseRevision string    `json:"base_revision"`
	NewRevision  string    `json:"new_revision"`
	Depth        int       `json:"depth"`
	CreatedAt    time.Time `json:"created_at"`

	Changes []Change `json:"changes,omitempty"`
}

// Change is one detected metric change belonging to a run.
type Change struct {
	ID         string  `json:"id"`
	RunID      string  `json:"run_id"`
	Revision   string  `json:"revision"`
	Pageload   string  `json:"pageload"`
	Metric     string  `json:"metric"`
	Diff       float64 `json:"diff"`
	PValue     float64 `json:"pvalue"`
	EffectSize float64 `json:"effect_size"`
}

const timeLayout = "2006-01-02T15:04:05.000"

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveRun inserts a run and its changes in a single transaction. IDs
// are assigned to the run and any change missing one.
func (db *DB) SaveRun(run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}

	tx, err := db.Write.Begin()
	if err != nil {
		return fmt.Errorf("begin save run tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO detection_runs (id, test_name, platform, branch, base_revision, new_revision, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TestName, run.Platform, run.Branch, run.BaseRevision, run.NewRevision, run.Depth)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i := range run.Changes {
		c := &run.Changes[i]
		if c.ID == "" {
			c.ID = NewChangeID()
		}
		c.RunID = run.ID
		_, err = tx.Exec(`
			INSERT INTO changes (id, run_id, revision, pageload, metric, diff, pvalue, effect_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.RunID, c.Revision, c.Pageload, c.Metric, c.Diff, c.PValue, c.EffectSize)
		if err != nil {
			return fmt.Errorf("insert change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save run: %w", err)
	}
	return nil
}

// GetRun returns a run with its changes.
func (db *DB) GetRun(id string) (*Run, error) {
	var r Run
	var createdAt string
	err := db.Read.QueryRow(`
		SELECT id, test_name, platform, branch, base_revision, new_revision, depth, created_at
		FROM detection_runs WHERE id = ?
	`, id).Scan(&r.ID, &r.TestName, &r.Platform, &r.Branch, &r.BaseRevision, &r.NewRevision, &r.Depth, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)

	r.Changes, err = db.ListChanges(id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first, up to limit (0 means 100).
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Read.Query(`
		SELECT id, test_name, platform, branch, base_revision, new_revision, depth, created_at
		FROM detection_runs ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TestName, &r.Platform, &r.Branch, &r.BaseRevision, &r.NewRevision, &r.Depth, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListChanges returns the changes recorded for a run, ordered by
// revision then metric.
func (db *DB) ListChanges(runID string) ([]Change, error) {
	rows, err := db.Read.Query(`
		SELECT id, run_id, revision, pageload, metric, diff, pvalue, effect_size
		FROM changes WHERE run_id = ? ORDER BY revision, pageload, metric
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.ID, &c.RunID, &c.Revision, &c.Pageload, &c.Metric, &c.Diff, &c.PValue, &c.EffectSize); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// PruneRuns deletes runs created before cutoff; their changes cascade.
func (db *DB) PruneRuns(cutoff time.Time) (int, error) {
	res, err := db.Write.Exec(
		"DELETE FROM detection_runs WHERE created_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteRun removes a run; its changes cascade.
func (db *DB) DeleteRun(id string) error {
	res, err := db.Write.Exec("DELETE FROM detection_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}
