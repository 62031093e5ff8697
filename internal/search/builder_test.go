package search

import (
	"strings"
	"testing"
	"time"
)

func TestBuildQueryNoFilters(t *testing.T) {
	query, countQuery, args, countArgs, err := BuildQuery(Filter{})
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if strings.Contains(query, "WHERE") {
		t.Errorf("unexpected WHERE clause: %s", query)
	}
	if !strings.Contains(countQuery, "COUNT(*)") {
		t.Errorf("count query = %s", countQuery)
	}
	// Only limit and offset.
	if len(args) != 2 || args[0] != 50 || args[1] != 0 {
		t.Errorf("args = %v", args)
	}
	if len(countArgs) != 0 {
		t.Errorf("countArgs = %v", countArgs)
	}
}

func TestBuildQueryFilters(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hasChanges := true
	depthMin := 1
	query, _, args, _, err := BuildQuery(Filter{
		TestName:     "amazon",
		Platform:     []string{"linux", "windows"},
		Branch:       "autoland",
		Revision:     "abc123",
		DepthMin:     &depthMin,
		CreatedAfter: &after,
		HasChanges:   &hasChanges,
		Metric:       "fcp",
		RunIDPrefix:  "run_",
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	for _, clause := range []string{
		"r.test_name = ?",
		"r.platform IN (?, ?)",
		"r.branch = ?",
		"(r.base_revision = ? OR r.new_revision = ?)",
		"r.depth >= ?",
		"r.created_at > ?",
		"SELECT DISTINCT run_id FROM changes",
		"WHERE metric = ?",
		"r.id LIKE ? || '%'",
	} {
		if !strings.Contains(query, clause) {
			t.Errorf("missing clause %q in:\n%s", clause, query)
		}
	}
	// test_name, 2 platforms, branch, 2 revision, depth, created, metric,
	// prefix, limit, offset.
	if len(args) != 12 {
		t.Errorf("args = %d: %v", len(args), args)
	}
	if args[len(args)-2] != 10 {
		t.Errorf("limit arg = %v", args[len(args)-2])
	}
}

func TestBuildQuerySortAndOrder(t *testing.T) {
	query, _, _, _, err := BuildQuery(Filter{Sort: "depth", Order: "asc"})
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if !strings.Contains(query, "ORDER BY r.depth ASC") {
		t.Errorf("query = %s", query)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := EncodeCursor(150)
	if got := DecodeCursor(c); got != 150 {
		t.Errorf("offset = %d, want 150", got)
	}
	if got := DecodeCursor("not base64!"); got != 0 {
		t.Errorf("bad cursor offset = %d, want 0", got)
	}
}
