package ci

import (
	"context"
	"fmt"
)

// QueryRows fetches the row set of a saved warehouse query (the
// query-results JSON format used by the telemetry Redash deployment).
// Rows are returned as generic maps; callers pick their columns.
func (c *Client) QueryRows(ctx context.Context, queryURL string) ([]map[string]any, error) {
	var resp struct {
		QueryResult struct {
			Data struct {
				Rows []map[string]any `json:"rows"`
			} `json:"data"`
		} `json:"query_result"`
	}
	if err := c.GetJSON(ctx, queryURL, nil, "", &resp); err != nil {
		return nil, fmt.Errorf("fetch warehouse query: %w", err)
	}
	return resp.QueryResult.Data.Rows, nil
}

// RowString reads a string column from a warehouse row.
func RowString(row map[string]any, column string) string {
	if v, ok := row[column].(string); ok {
		return v
	}
	return ""
}

// RowFloat reads a numeric column from a warehouse row.
func RowFloat(row map[string]any, column string) (float64, bool) {
	switch v := row[column].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
