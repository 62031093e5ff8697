// Package search builds SQL queries for filtering stored detection
// runs, with base64 cursor pagination.
package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter contains all available run search filter fields.
type Filter struct {
	TestName      string     `json:"test_name,omitempty"`
	Platform      []string   `json:"platform,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Revision      string     `json:"revision,omitempty"`
	DepthMin      *int       `json:"depth_min,omitempty"`
	DepthMax      *int       `json:"depth_max,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`

	// HasChanges keeps only runs where at least one change was
	// detected; Metric narrows that to a specific metric.
	HasChanges *bool  `json:"has_changes,omitempty"`
	Metric     string `json:"metric,omitempty"`

	RunIDPrefix string `json:"run_id_prefix,omitempty"`

	Sort   string `json:"sort,omitempty"`
	Order  string `json:"order,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Result contains the search results.
type Result struct {
	Runs    []map[string]interface{} `json:"runs"`
	Total   int                      `json:"total"`
	Cursor  string                   `json:"cursor,omitempty"`
	HasMore bool                     `json:"has_more"`
}

// BuildQuery constructs a SELECT query from the search filter.
func BuildQuery(f Filter) (query string, countQuery string, args []interface{}, countArgs []interface{}, err error) {
	var conditions []string
	var queryArgs []interface{}

	if f.TestName != "" {
		conditions = append(conditions, "r.test_name = ?")
		queryArgs = append(queryArgs, f.TestName)
	}

	if len(f.Platform) > 0 {
		placeholders := make([]string, len(f.Platform))
		for i, p := range f.Platform {
			placeholders[i] = "?"
			queryArgs = append(queryArgs, p)
		}
		conditions = append(conditions, fmt.Sprintf("r.platform IN (%s)", strings.Join(placeholders, ", ")))
	}

	if f.Branch != "" {
		conditions = append(conditions, "r.branch = ?")
		queryArgs = append(queryArgs, f.Branch)
	}

	if f.Revision != "" {
		conditions = append(conditions, "(r.base_revision = ? OR r.new_revision = ?)")
		queryArgs = append(queryArgs, f.Revision, f.Revision)
	}

	if f.DepthMin != nil {
		conditions = append(conditions, "r.depth >= ?")
		queryArgs = append(queryArgs, *f.DepthMin)
	}
	if f.DepthMax != nil {
		conditions = append(conditions, "r.depth <= ?")
		queryArgs = append(queryArgs, *f.DepthMax)
	}

	addTimeFilter(&conditions, &queryArgs, "r.created_at", f.CreatedAfter, f.CreatedBefore)

	if f.HasChanges != nil && *f.HasChanges {
		conditions = append(conditions, "r.id IN (SELECT DISTINCT run_id FROM changes)")
	}

	if f.Metric != "" {
		conditions = append(conditions, "r.id IN (SELECT run_id FROM changes WHERE metric = ?)")
		queryArgs = append(queryArgs, f.Metric)
	}

	if f.RunIDPrefix != "" {
		conditions = append(conditions, "r.id LIKE ? || '%'")
		queryArgs = append(queryArgs, f.RunIDPrefix)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sortCol := "r.created_at"
	switch f.Sort {
	case "test_name":
		sortCol = "r.test_name"
	case "platform":
		sortCol = "r.platform"
	case "depth":
		sortCol = "r.depth"
	}

	order := "DESC"
	if f.Order == "asc" {
		order = "ASC"
	}

	limit := 50
	if f.Limit > 0 && f.Limit <= 1000 {
		limit = f.Limit
	}

	offset := 0
	if f.Cursor != "" {
		offset = DecodeCursor(f.Cursor)
	}

	countQuery = fmt.Sprintf("SELECT COUNT(*) FROM detection_runs r %s", where)
	countArgs = make([]interface{}, len(queryArgs))
	copy(countArgs, queryArgs)

	query = fmt.Sprintf(`
		SELECT r.id, r.test_name, r.platform, r.branch, r.base_revision, r.new_revision,
			r.depth, r.created_at
		FROM detection_runs r
		%s
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, sortCol, order)

	queryArgs = append(queryArgs, limit, offset)
	args = queryArgs

	return query, countQuery, args, countArgs, nil
}

// EncodeCursor encodes an offset as a base64 cursor.
func EncodeCursor(offset int) string {
	data, _ := json.Marshal(map[string]int{"offset": offset})
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor decodes a base64 cursor to an offset.
func DecodeCursor(cursor string) int {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	return m["offset"]
}

func addTimeFilter(conditions *[]string, args *[]interface{}, col string, after, before *time.Time) {
	if after != nil {
		*conditions = append(*conditions, col+" > ?")
		*args = append(*args, after.UTC().Format("2006-01-02T15:04:05.000"))
	}
	if before != nil {
		*conditions = append(*conditions, col+" < ?")
		*args = append(*args, before.UTC().Format("2006-01-02T15:04:05.000"))
	}
}
