package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/perfscope/perfscope/internal/cache"
)

func testCache(t *testing.T) cache.Store {
	t.Helper()
	s, err := cache.Open("badger", t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetJSONServesFromCacheOnSecondCall(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"value":42}`)
	}))
	defer srv.Close()

	c := New(WithCache(testCache(t)), WithRateLimit(1000, 1000))
	var out struct {
		Value int `json:"value"`
	}
	for i := 0; i < 3; i++ {
		if err := c.GetJSON(context.Background(), srv.URL, nil, "key1", &out); err != nil {
			t.Fatalf("GetJSON: %v", err)
		}
	}
	if out.Value != 42 {
		t.Errorf("decoded value = %d, want 42", out.Value)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (cache should serve the rest)", got)
	}
}

func TestGetJSONRetriesOnServerError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := New(WithRetries(5), WithRateLimit(1000, 1000))
	var out map[string]bool
	if err := c.GetJSON(context.Background(), srv.URL, nil, "", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !out["ok"] {
		t.Error("expected decoded response after retries")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestGetJSONGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(WithRetries(2), WithRateLimit(1000, 1000))
	var out map[string]any
	if err := c.GetJSON(context.Background(), srv.URL, nil, "", &out); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestGetRevisionUnknownBranch(t *testing.T) {
	c := New(WithRateLimit(1000, 1000))
	_, err := c.GetRevision(context.Background(), "abc", "no-such-branch")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPushesWalksBackwards(t *testing.T) {
	// Single window holds everything the caller asks for.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := pushlogResponse{Pushes: map[string]Push{
			"8":  {Changesets: []string{"aaa", "bbb"}},
			"9":  {Changesets: []string{"ccc"}},
			"10": {Changesets: []string{"ddd"}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(WithRateLimit(1000, 1000), WithBranchURL("testing", srv.URL))
	pushes, err := c.GetPushes(context.Background(), "testing", 10, 2)
	if err != nil {
		t.Fatalf("GetPushes: %v", err)
	}
	if len(pushes) != 2 {
		t.Fatalf("got %d pushes, want 2 (trimmed to depth)", len(pushes))
	}
	ids := SortedPushIDs(pushes)
	if ids[0] != "9" || ids[1] != "10" {
		t.Errorf("push ids = %v, want [9 10]", ids)
	}
}

func TestFindTaskGroupIDsDecisionOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tasks":[
			{"namespace":"gecko.v2.autoland.revision.abc.taskgraph.decision","taskId":"DEC1"},
			{"namespace":"gecko.v2.autoland.revision.abc.taskgraph.cron","taskId":"CRON1"}
		]}`)
	})
	mux.HandleFunc("/queue/v1/task/DEC1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"taskGroupId":"GROUP-DEC"}`)
	})
	mux.HandleFunc("/queue/v1/task/CRON1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"taskGroupId":"GROUP-CRON"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(WithRateLimit(1000, 1000),
		WithTaskclusterBase(srv.URL+"/queue/", srv.URL+"/index/"))

	groups, err := c.FindTaskGroupIDs(context.Background(), "abc", "autoland", false)
	if err != nil {
		t.Fatalf("FindTaskGroupIDs: %v", err)
	}
	if len(groups) != 1 || groups[0] != "GROUP-DEC" {
		t.Errorf("groups = %v, want [GROUP-DEC]", groups)
	}

	groups, err = c.FindTaskGroupIDs(context.Background(), "abc", "autoland", true)
	if err != nil {
		t.Fatalf("FindTaskGroupIDs(crons): %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("groups with crons = %v, want both", groups)
	}
}

func TestListTaskGroupFollowsContinuation(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"tasks":[{"status":{"taskId":"T1"},"task":{"metadata":{"name":"a"}}}],"continuationToken":"next"}`)
			return
		}
		if r.URL.Query().Get("continuationToken") != "next" {
			t.Errorf("missing continuation token on second call")
		}
		fmt.Fprint(w, `{"tasks":[{"status":{"taskId":"T2"},"task":{"metadata":{"name":"b"}}}]}`)
	}))
	defer srv.Close()

	c := New(WithRateLimit(1000, 1000), WithTaskclusterBase(srv.URL+"/", srv.URL+"/"))
	tasks, err := c.ListTaskGroup(context.Background(), "G1")
	if err != nil {
		t.Fatalf("ListTaskGroup: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Status.TaskID != "T1" || tasks[1].Status.TaskID != "T2" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestSuiteName(t *testing.T) {
	got := SuiteName("test-android-hw-a51-11-0-aarch64-shippable-qr/opt-browsertime-tp6m-geckoview-sina")
	want := "browsertime-tp6m-geckoview-sina"
	if got != want {
		t.Errorf("SuiteName = %q, want %q", got, want)
	}
}

func TestQueryRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"query_result":{"data":{"rows":[{"name":"task-a","CPU Minutes Spent":12.5}]}}}`)
	}))
	defer srv.Close()

	c := New(WithRateLimit(1000, 1000))
	rows, err := c.QueryRows(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if RowString(rows[0], "name") != "task-a" {
		t.Errorf("name column = %v", rows[0]["name"])
	}
	if v, ok := RowFloat(rows[0], "CPU Minutes Spent"); !ok || v != 12.5 {
		t.Errorf("minutes column = %v, %v", v, ok)
	}
}
