package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/perfscope/perfscope/internal/ci"
)

// groupServer fakes the queue API for a task group with two retriggers
// of one suite plus a task on another platform.
func groupServer(t *testing.T) *httptest.Server {
	t.Helper()

	var payload bytes.Buffer
	zw := zip.NewWriter(&payload)
	f, err := zw.Create("perfherder-data.json")
	if err != nil {
		t.Fatalf("build zip: %v", err)
	}
	fmt.Fprint(f, `{"framework":{"name":"browsertime"},"suites":[]}`)
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/task-group/GROUP1/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tasks":[
			{"status":{"taskId":"TASK1","state":"completed"},
			 "task":{"metadata":{"name":"test-linux64/opt-browsertime-tp6-firefox-amazon"},
			         "payload":{"env":{"GECKO_HEAD_REV":"abcdef"}}}},
			{"status":{"taskId":"TASK2","state":"completed"},
			 "task":{"metadata":{"name":"test-linux64/opt-browsertime-tp6-firefox-amazon"},
			         "payload":{"env":{}}}},
			{"status":{"taskId":"TASK3","state":"completed"},
			 "task":{"metadata":{"name":"test-windows10/opt-browsertime-tp6-firefox-bing"},
			         "payload":{"env":{}}}}
		]}`)
	})
	artifactList := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"artifacts":[{"name":"public/test_info/perfherder-data.zip","contentType":"application/zip"}]}`)
	}
	mux.HandleFunc("/v1/task/TASK1/artifacts", artifactList)
	mux.HandleFunc("/v1/task/TASK2/artifacts", artifactList)
	mux.HandleFunc("/v1/task/TASK1/artifacts/public/test_info/perfherder-data.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload.Bytes())
	})
	mux.HandleFunc("/v1/task/TASK2/artifacts/public/test_info/perfherder-data.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload.Bytes())
	})
	return httptest.NewServer(mux)
}

func TestDownloadLaysOutRuns(t *testing.T) {
	srv := groupServer(t)
	defer srv.Close()

	client := ci.New(
		ci.WithRateLimit(1000, 1000),
		ci.WithTaskclusterBase(srv.URL+"/", srv.URL+"/"),
	)
	d := NewDownloader(client, WithWorkers(2))

	out := t.TempDir()
	res, err := d.Download(context.Background(), Request{
		GroupID:    "GROUP1",
		OutputDir:  out,
		TestSuites: []string{"browsertime-tp6-firefox-amazon"},
		Artifacts:  []string{"perfherder-data"},
		Platform:   "test-linux64",
		Unzip:      true,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if res.HeadRev != "abcdef" {
		t.Errorf("head rev = %q, want abcdef", res.HeadRev)
	}
	if len(res.Failed) != 0 {
		t.Errorf("failed tasks: %v", res.Failed)
	}
	if len(res.TaskToFile) != 2 {
		t.Errorf("task map = %v, want both retriggers", res.TaskToFile)
	}

	wantRun := filepath.Join(out, "GROUP1", "1")
	if res.RunDir != wantRun {
		t.Errorf("run dir = %s, want %s", res.RunDir, wantRun)
	}

	// Both retriggers extracted under distinct counters.
	suiteDir := filepath.Join(wantRun, "browsertime-tp6-firefox-amazon")
	for _, n := range []string{"0", "1"} {
		p := filepath.Join(suiteDir, "perfherder-data_data", n, "perfherder-data.json")
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing extracted data: %s", p)
		}
	}

	// Downloads carry the task ID in the file name.
	if _, err := os.Stat(filepath.Join(suiteDir, "downloads", "TASK1"+NameSplitter+"perfherder-data.zip")); err != nil {
		t.Errorf("missing raw download: %v", err)
	}

	// Manifest round trip.
	raw, err := os.ReadFile(filepath.Join(wantRun, "config.json"))
	if err != nil {
		t.Fatalf("read config.json: %v", err)
	}
	var cfg runConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode config.json: %v", err)
	}
	if cfg.TaskGroupID != "GROUP1" || cfg.Platform != "test-linux64" {
		t.Errorf("config = %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(wantRun, "taskid_to_file_map.json")); err != nil {
		t.Errorf("missing task map file: %v", err)
	}

	// A second run lands in directory 2; the group listing is reused
	// from disk.
	res2, err := d.Download(context.Background(), Request{
		GroupID:    "GROUP1",
		OutputDir:  out,
		TestSuites: []string{"all"},
		Artifacts:  []string{"perfherder-data"},
		Platform:   "test-linux64",
	})
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if want := filepath.Join(out, "GROUP1", "2"); res2.RunDir != want {
		t.Errorf("second run dir = %s, want %s", res2.RunDir, want)
	}
}

func TestDownloadResumeReusesRun(t *testing.T) {
	srv := groupServer(t)
	defer srv.Close()

	client := ci.New(
		ci.WithRateLimit(1000, 1000),
		ci.WithTaskclusterBase(srv.URL+"/", srv.URL+"/"),
	)
	d := NewDownloader(client)

	out := t.TempDir()
	req := Request{
		GroupID:    "GROUP1",
		OutputDir:  out,
		TestSuites: []string{"all"},
		Platform:   "test-linux64",
	}
	first, err := d.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	req.Resume = true
	second, err := d.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("resumed Download: %v", err)
	}
	if first.RunDir != second.RunDir {
		t.Errorf("resume landed in %s, want %s", second.RunDir, first.RunDir)
	}
}

func TestSafePathRejectsEscape(t *testing.T) {
	if _, err := safePath("/tmp/out", "../../etc/passwd"); err == nil {
		t.Error("expected traversal rejection")
	}
	if _, err := safePath("/tmp/out", "sub/ok.txt"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
}

func TestRunDirsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"10", "2", "1", "notes"} {
		if err := os.MkdirAll(filepath.Join(dir, n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := RunDirs(dir)
	if err != nil {
		t.Fatalf("RunDirs: %v", err)
	}
	want := []string{
		filepath.Join(dir, "1"),
		filepath.Join(dir, "2"),
		filepath.Join(dir, "10"),
	}
	if len(runs) != len(want) {
		t.Fatalf("runs = %v", runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i], want[i])
		}
	}
}
