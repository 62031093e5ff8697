package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/perfscope/perfscope/internal/cover"
	"github.com/perfscope/perfscope/internal/search"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetRun(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		TestName:     "amazon",
		Platform:     "test-linux1804-64-shippable-qr/opt",
		Branch:       "autoland",
		BaseRevision: "aaa111",
		NewRevision:  "bbb222",
		Depth:        2,
		Changes: []Change{
			{Revision: "bbb222", Pageload: "warm", Metric: "fcp", Diff: 1.2, PValue: 0.003, EffectSize: 0.9},
			{Revision: "bbb222", Pageload: "cold", Metric: "loadtime", Diff: 0.4, PValue: 0.01, EffectSize: 0.7},
		},
	}
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("run ID = %q, want run_ prefix", run.ID)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.TestName != "amazon" || got.NewRevision != "bbb222" || got.Depth != 2 {
		t.Errorf("run = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if len(got.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(got.Changes))
	}
	// Ordered by revision, pageload, metric: cold before warm.
	if got.Changes[0].Pageload != "cold" || got.Changes[1].Metric != "fcp" {
		t.Errorf("change order = %+v", got.Changes)
	}
	if !strings.HasPrefix(got.Changes[0].ID, "chg_") {
		t.Errorf("change ID = %q, want chg_ prefix", got.Changes[0].ID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("run_nope"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	for _, rev := range []string{"r1", "r2", "r3"} {
		run := &Run{TestName: "amazon", Platform: "p", Branch: "autoland", BaseRevision: "base", NewRevision: rev}
		if err := db.SaveRun(run); err != nil {
			t.Fatalf("SaveRun %s: %v", rev, err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].NewRevision != "r3" {
		t.Errorf("newest run revision = %q, want r3", runs[0].NewRevision)
	}
}

func TestDeleteRunCascadesChanges(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		TestName: "amazon", Platform: "p", Branch: "autoland",
		BaseRevision: "a", NewRevision: "b",
		Changes: []Change{{Revision: "b", Pageload: "warm", Metric: "fcp", Diff: 1, PValue: 0.01, EffectSize: 1}},
	}
	if err := db.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := db.DeleteRun(run.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	var n int
	if err := db.Read.QueryRow("SELECT COUNT(*) FROM changes").Scan(&n); err != nil {
		t.Fatalf("count changes: %v", err)
	}
	if n != 0 {
		t.Errorf("changes left after cascade = %d", n)
	}

	if err := db.DeleteRun(run.ID); err == nil {
		t.Error("expected error deleting missing run")
	}
}

func TestInsertAlertsIgnoresDuplicates(t *testing.T) {
	db := openTestDB(t)

	records := []cover.Record{
		{SummaryID: "1000", Suite: "amazon"},
		{SummaryID: "1000", Suite: "bing"},
		{SummaryID: "1001", Suite: "bing"},
	}
	n, err := db.InsertAlerts(records)
	if err != nil {
		t.Fatalf("InsertAlerts: %v", err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}

	n, err = db.InsertAlerts(records)
	if err != nil {
		t.Fatalf("InsertAlerts again: %v", err)
	}
	if n != 0 {
		t.Errorf("re-insert = %d, want 0", n)
	}

	got, err := db.ListAlerts()
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("alerts = %d, want 3", len(got))
	}
}

func TestSnapshots(t *testing.T) {
	db := openTestDB(t)

	series, _ := json.Marshal([]map[string]any{{"time": "2026-01-01T00:00:00Z", "value": 123.4}})
	snap := &Snapshot{
		Platform: "test-linux1804-64-shippable-qr/opt",
		App:      "firefox",
		Variant:  "fission-webrender",
		Pageload: "warm",
		Series:   series,
	}
	if err := db.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if !strings.HasPrefix(snap.ID, "snap_") {
		t.Errorf("snapshot ID = %q", snap.ID)
	}

	other := &Snapshot{Platform: "other", App: "firefox", Variant: "e10s", Pageload: "cold", Series: series}
	if err := db.SaveSnapshot(other); err != nil {
		t.Fatalf("SaveSnapshot other: %v", err)
	}

	got, err := db.ListSnapshots("test-linux1804-64-shippable-qr/opt", 0)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(got))
	}
	if got[0].Variant != "fission-webrender" {
		t.Errorf("variant = %q", got[0].Variant)
	}

	var pts []map[string]any
	if err := json.Unmarshal(got[0].Series, &pts); err != nil {
		t.Fatalf("decode series: %v", err)
	}
	if len(pts) != 1 || pts[0]["value"].(float64) != 123.4 {
		t.Errorf("series = %v", pts)
	}

	all, err := db.ListSnapshots("", 0)
	if err != nil {
		t.Fatalf("ListSnapshots all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all snapshots = %d, want 2", len(all))
	}
}

func TestSearchRunsPagination(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		run := &Run{TestName: "amazon", Platform: "linux", Branch: "autoland", BaseRevision: "a", NewRevision: fmt.Sprintf("r%d", i)}
		if err := db.SaveRun(run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	result, err := db.SearchRuns(search.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("SearchRuns: %v", err)
	}
	if result.Total != 5 || len(result.Runs) != 2 || !result.HasMore {
		t.Fatalf("result = %+v", result)
	}

	result, err = db.SearchRuns(search.Filter{Limit: 2, Cursor: result.Cursor})
	if err != nil {
		t.Fatalf("SearchRuns page 2: %v", err)
	}
	if len(result.Runs) != 2 || !result.HasMore {
		t.Fatalf("page 2 = %+v", result)
	}

	result, err = db.SearchRuns(search.Filter{Limit: 2, Cursor: result.Cursor})
	if err != nil {
		t.Fatalf("SearchRuns page 3: %v", err)
	}
	if len(result.Runs) != 1 || result.HasMore {
		t.Fatalf("page 3 = %+v", result)
	}
}

func TestIDsSortable(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if len(a) != len("run_")+26 {
		t.Errorf("id length = %d", len(a))
	}
	if a >= b {
		t.Errorf("ids not increasing: %q >= %q", a, b)
	}
}
