package store

import "fmt"

// Stats holds row counts for the API stats endpoint.
type Stats struct {
	Runs      int `json:"runs"`
	Changes   int `json:"changes"`
	Alerts    int `json:"alerts"`
	Snapshots int `json:"snapshots"`
}

// GetStats counts the stored rows per table.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"detection_runs", &s.Runs},
		{"changes", &s.Changes},
		{"alerts", &s.Alerts},
		{"summary_snapshots", &s.Snapshots},
	} {
		if err := db.Read.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return &s, nil
}
