package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is one persisted pageload summary series. Series holds the
// smoothed points as JSON so readers can plot history without
// re-querying the warehouse.
type Snapshot struct {
	ID        string          `json:"id"`
	Platform  string          `json:"platform"`
	App       string          `json:"app"`
	Variant   string          `json:"variant"`
	Pageload  string          `json:"pageload"`
	Series    json.RawMessage `json:"series"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveSnapshot inserts a summary snapshot, assigning an ID if missing.
func (db *DB) SaveSnapshot(s *Snapshot) error {
	if s.ID == "" {
		s.ID = NewSnapshotID()
	}
	_, err := db.Write.Exec(`
		INSERT INTO summary_snapshots (id, platform, app, variant, pageload, series)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Platform, s.App, s.Variant, s.Pageload, string(s.Series))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// PruneSnapshots deletes snapshots created before cutoff.
func (db *DB) PruneSnapshots(cutoff time.Time) (int, error) {
	res, err := db.Write.Exec(
		"DELETE FROM summary_snapshots WHERE created_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListSnapshots returns snapshots newest first, optionally filtered by
// platform. Limit 0 means 100.
func (db *DB) ListSnapshots(platform string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, platform, app, variant, pageload, series, created_at
		FROM summary_snapshots`
	args := []any{}
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, platform)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Read.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var s Snapshot
		var series, createdAt string
		if err := rows.Scan(&s.ID, &s.Platform, &s.App, &s.Variant, &s.Pageload, &series, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Series = json.RawMessage(series)
		s.CreatedAt = parseTime(createdAt)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
