package store

import (
	"fmt"

	"github.com/perfscope/perfscope/internal/search"
)

// SearchRuns executes a filtered run search against the read pool.
func (db *DB) SearchRuns(f search.Filter) (*search.Result, error) {
	query, countQuery, args, countArgs, err := search.BuildQuery(f)
	if err != nil {
		return nil, err
	}

	var total int
	if err := db.Read.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	rows, err := db.Read.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	defer rows.Close()

	result := &search.Result{Total: total, Runs: []map[string]interface{}{}}
	for rows.Next() {
		var r Run
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TestName, &r.Platform, &r.Branch, &r.BaseRevision, &r.NewRevision, &r.Depth, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result.Runs = append(result.Runs, map[string]interface{}{
			"id":            r.ID,
			"test_name":     r.TestName,
			"platform":      r.Platform,
			"branch":        r.Branch,
			"base_revision": r.BaseRevision,
			"new_revision":  r.NewRevision,
			"depth":         r.Depth,
			"created_at":    createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	offset := 0
	if f.Cursor != "" {
		offset = search.DecodeCursor(f.Cursor)
	}
	next := offset + len(result.Runs)
	if next < total {
		result.Cursor = search.EncodeCursor(next)
		result.HasMore = true
	}
	return result, nil
}
