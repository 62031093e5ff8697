package store

import (
	"fmt"

	"github.com/perfscope/perfscope/internal/cover"
)

// InsertAlerts records alert/suite pairs, ignoring duplicates so the
// same warehouse export can be loaded repeatedly.
func (db *DB) InsertAlerts(records []cover.Record) (int, error) {
	tx, err := db.Write.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin insert alerts tx: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, rec := range records {
		res, err := tx.Exec(
			"INSERT OR IGNORE INTO alerts (summary_id, suite) VALUES (?, ?)",
			rec.SummaryID, rec.Suite,
		)
		if err != nil {
			return 0, fmt.Errorf("insert alert %s/%s: %w", rec.SummaryID, rec.Suite, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert alerts: %w", err)
	}
	return inserted, nil
}

// ListAlerts returns every stored alert record in insertion order.
func (db *DB) ListAlerts() ([]cover.Record, error) {
	rows, err := db.Read.Query("SELECT summary_id, suite FROM alerts ORDER BY created_at, summary_id, suite")
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var records []cover.Record
	for rows.Next() {
		var rec cover.Record
		if err := rows.Scan(&rec.SummaryID, &rec.Suite); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
