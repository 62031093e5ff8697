// Package artifact downloads, extracts and lays out task artifacts from
// a CI task group so the analysis packages can consume them from disk.
//
// The on-disk layout under the output directory is
//
//	<group-id>/<run>/<suite>/downloads/<taskid>+-+<file>
//	<group-id>/<run>/<suite>/<artifact>_data/<n>/...
//
// where <run> increments on every invocation and <n> counts retriggers
// of the same suite. A config.json in the run directory records how the
// data was produced and taskid_to_file_map.json maps task IDs to the
// extracted data of each retrigger.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/perfscope/perfscope/internal/ci"
)

// NameSplitter joins a task ID and an artifact file name on disk.
const NameSplitter = "+-+"

const defaultWorkers = 5

// Request describes one artifact ingestion run.
type Request struct {
	GroupID   string
	OutputDir string

	// TestSuites filters tasks by suite name; the single entry "all"
	// matches every suite.
	TestSuites []string

	// Artifacts are substring patterns matched against artifact names,
	// e.g. "perfherder-data" or "browsertime-videos".
	Artifacts []string

	// Platform must appear in the task name for the task to be
	// considered.
	Platform string

	Unzip            bool
	DownloadFailures bool

	// Resume reuses the latest run directory instead of starting a new
	// one, skipping files that are already present.
	Resume bool
}

// Result reports what an ingestion run produced.
type Result struct {
	RunDir     string
	HeadRev    string
	TaskToFile map[string]string
	Downloaded int
	Failed     []string
}

// Downloader fetches artifacts for whole task groups.
type Downloader struct {
	client  *ci.Client
	workers int
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithWorkers caps concurrent artifact transfers.
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDownloader creates a Downloader on top of a CI client.
func NewDownloader(client *ci.Client, opts ...Option) *Downloader {
	d := &Downloader{client: client, workers: defaultWorkers}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download ingests the matching artifacts of every task in the group.
// Individual task failures are collected in Result.Failed rather than
// aborting the run.
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	if req.GroupID == "" {
		return nil, fmt.Errorf("task group ID is required")
	}
	if len(req.Artifacts) == 0 {
		req.Artifacts = []string{"perfherder-data"}
	}
	allSuites := false
	for _, s := range req.TestSuites {
		if s == "all" {
			allSuites = true
		}
	}

	groupDir := filepath.Join(req.OutputDir, req.GroupID)
	runDir, err := nextRunDir(groupDir, req.Resume)
	if err != nil {
		return nil, err
	}
	slog.Info("storing artifacts", "dir", runDir)

	if err := writeConfig(runDir, req); err != nil {
		return nil, err
	}

	tasks, err := d.taskGroupInfo(ctx, groupDir, req.GroupID)
	if err != nil {
		return nil, err
	}

	res := &Result{RunDir: runDir, TaskToFile: map[string]string{}}
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, d.workers)
		counters = map[string]int{}
	)

	for _, task := range tasks {
		name := task.Task.Metadata.Name
		if req.Platform != "" && !strings.Contains(name, req.Platform) {
			continue
		}
		suite := ci.SuiteName(name)
		if !allSuites && !contains(req.TestSuites, suite) {
			continue
		}
		if task.Status.State == "failed" && !req.DownloadFailures {
			slog.Debug("skipping failed task", "task", task.Status.TaskID)
			continue
		}
		if rev := task.Task.Payload.EnvString("GECKO_HEAD_REV"); rev != "" {
			res.HeadRev = rev
		}

		counter := counters[suite]
		counters[suite]++

		taskID := task.Status.TaskID
		suiteDir := filepath.Join(runDir, suite)

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			files, err := d.fetchTask(ctx, taskID, suiteDir, counter, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("task ingestion failed", "task", taskID, "suite", suite, "error", err)
				res.Failed = append(res.Failed, taskID)
				return
			}
			for _, f := range files {
				res.TaskToFile[taskID] = f
				res.Downloaded++
			}
		}()
	}
	wg.Wait()

	if err := writeJSON(filepath.Join(runDir, "taskid_to_file_map.json"), res.TaskToFile); err != nil {
		return nil, err
	}
	slog.Info("ingestion finished",
		"downloaded", res.Downloaded, "failed", len(res.Failed), "dir", runDir)
	return res, nil
}

// fetchTask downloads every matching artifact of one task and extracts
// or places it under the suite's data directory. It returns the data
// paths produced.
func (d *Downloader) fetchTask(ctx context.Context, taskID, suiteDir string, counter int, req Request) ([]string, error) {
	artifacts, err := d.client.ListArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}

	matched := make([]ci.Artifact, 0, 1)
	for _, a := range artifacts {
		if matchPattern(a.Name, req.Artifacts) != "" {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no artifact matching %v in task %s", req.Artifacts, taskID)
	}

	if !req.DownloadFailures {
		for _, a := range artifacts {
			if !strings.Contains(a.Name, "log_error") {
				continue
			}
			errFile, err := d.downloadOne(ctx, taskID, a.Name, filepath.Join(suiteDir, "downloads"))
			if err != nil {
				return nil, err
			}
			if st, err := os.Stat(errFile); err == nil && st.Size() != 0 {
				return nil, fmt.Errorf("task %s has a non-empty error log", taskID)
			}
		}
	}

	var out []string
	downloadsDir := filepath.Join(suiteDir, "downloads")
	for _, a := range matched {
		pattern := matchPattern(a.Name, req.Artifacts)
		dataDir := filepath.Join(suiteDir, strings.ReplaceAll(pattern, ".", "")+"_data")

		fname, err := d.downloadOne(ctx, taskID, a.Name, downloadsDir)
		if err != nil {
			return nil, err
		}

		dest := filepath.Join(dataDir, strconv.Itoa(counter))
		if req.Unzip && isArchive(fname) {
			if err := extract(fname, dest, taskID); err != nil {
				return nil, fmt.Errorf("extract %s: %w", fname, err)
			}
		} else {
			if err := placeFile(fname, dest); err != nil {
				return nil, err
			}
		}
		out = append(out, dest)
	}
	return out, nil
}

// downloadOne fetches a single artifact into dir, keeping any file that
// is already there from an earlier resume.
func (d *Downloader) downloadOne(ctx context.Context, taskID, name, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	fname := filepath.Join(dir, taskID+NameSplitter+filepath.Base(name))
	if _, err := os.Stat(fname); err == nil {
		slog.Debug("artifact already on disk", "file", fname)
		return fname, nil
	}

	f, err := os.Create(fname)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", fname, err)
	}
	url := d.client.ArtifactURL(taskID, name)
	if err := d.client.Download(ctx, url, f); err != nil {
		f.Close()
		os.Remove(fname)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", fname, err)
	}
	return fname, nil
}

// taskGroupInfo lists the tasks of a group, caching the listing beside
// the run directories so resumed ingestions skip the network.
func (d *Downloader) taskGroupInfo(ctx context.Context, groupDir, groupID string) ([]ci.Task, error) {
	infoPath := filepath.Join(groupDir, "task-group-information.json")
	if raw, err := os.ReadFile(infoPath); err == nil {
		var tasks []ci.Task
		if err := json.Unmarshal(raw, &tasks); err == nil {
			return tasks, nil
		}
		slog.Warn("ignoring unreadable task group listing", "file", infoPath)
	}

	tasks, err := d.client.ListTaskGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(infoPath, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// nextRunDir picks the run directory: one past the highest existing run
// number, or that run itself when resuming.
func nextRunDir(groupDir string, resume bool) (string, error) {
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", groupDir, err)
	}
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", groupDir, err)
	}
	maxRun := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n > maxRun {
			maxRun = n
		}
	}
	run := maxRun + 1
	if resume && maxRun > 0 {
		run = maxRun
	}
	dir := filepath.Join(groupDir, strconv.Itoa(run))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// runConfig is the config.json dropped in every run directory.
type runConfig struct {
	TestSuites       []string `json:"test_suites"`
	Platform         string   `json:"platform"`
	Artifact         []string `json:"artifact"`
	DownloadFailures bool     `json:"download_failures"`
	TaskGroupID      string   `json:"task_group_id"`
}

func writeConfig(runDir string, req Request) error {
	return writeJSON(filepath.Join(runDir, "config.json"), runConfig{
		TestSuites:       req.TestSuites,
		Platform:         req.Platform,
		Artifact:         req.Artifacts,
		DownloadFailures: req.DownloadFailures,
		TaskGroupID:      req.GroupID,
	})
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func placeFile(src, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dest, err)
	}
	return out.Close()
}

func matchPattern(name string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return p
		}
	}
	return ""
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// RunDirs lists the run directories of a group in ascending run order.
func RunDirs(groupDir string) ([]string, error) {
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", groupDir, err)
	}
	var runs []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			runs = append(runs, n)
		}
	}
	sort.Ints(runs)
	out := make([]string, len(runs))
	for i, n := range runs {
		out[i] = filepath.Join(groupDir, strconv.Itoa(n))
	}
	return out, nil
}
