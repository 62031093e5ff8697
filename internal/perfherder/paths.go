package perfherder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var digitRun = regexp.MustCompile(`([0-9]+)`)

// SortNicely orders strings the way humans expect, comparing embedded
// digit runs numerically ("run-2" before "run-10").
func SortNicely(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool {
		return naturalLess(out[i], out[j])
	})
	return out
}

func naturalLess(a, b string) bool {
	as := digitRun.Split(a, -1)
	bs := digitRun.Split(b, -1)
	an := digitRun.FindAllString(a, -1)
	bn := digitRun.FindAllString(b, -1)
	for i := 0; ; i++ {
		if i >= len(as) || i >= len(bs) {
			return len(as) < len(bs)
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
		if i < len(an) && i < len(bn) {
			x, _ := strconv.Atoi(an[i])
			y, _ := strconv.Atoi(bn[i])
			if x != y {
				return x < y
			}
		} else if i < len(an) || i < len(bn) {
			return len(an) < len(bn)
		}
	}
}

// FindDataFiles locates downloaded artifact files matching pattern under
// the task-group directory laid out by the artifact downloader:
// root/<groupID>/<run>/<suite>/... When runNumber is negative the newest
// run directory holding data is used.
func FindDataFiles(root, groupID string, runNumber int, pattern string) ([]string, error) {
	taskDir := filepath.Join(root, groupID)
	if _, err := os.Stat(taskDir); err != nil {
		return nil, fmt.Errorf("open task group directory %s: %w", taskDir, err)
	}

	if runNumber < 0 {
		latest, err := latestRun(taskDir)
		if err != nil {
			return nil, err
		}
		runNumber = latest
	}

	runDir := filepath.Join(taskDir, strconv.Itoa(runNumber))
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("no run %d for task group %s: %w", runNumber, groupID, err)
	}

	var found []string
	err := filepath.WalkDir(runDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Raw downloads sit beside the extracted data; only the data
		// directories count.
		if d.IsDir() && d.Name() == "downloads" {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.Contains(d.Name(), pattern) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan run directory %s: %w", runDir, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no %q files found for task group %s run %d", pattern, groupID, runNumber)
	}
	return SortNicely(found), nil
}

// latestRun picks the highest-numbered run directory that holds data.
func latestRun(taskDir string) (int, error) {
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return 0, fmt.Errorf("read task directory: %w", err)
	}
	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(taskDir, e.Name()))
		if err != nil || len(sub) == 0 {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("no run directories under %s", taskDir)
	}
	return best, nil
}
