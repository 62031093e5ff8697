package perfherder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeData(t *testing.T, dir, name string, d Data) string {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOrganizeSplitsColdWarm(t *testing.T) {
	dir := t.TempDir()
	path := writeData(t, dir, "perfherder-data.json", Data{
		Suites: []Suite{
			{
				Name:         "amazon",
				ExtraOptions: []string{"cold", "fission"},
				Subtests: []Subtest{
					{Name: "SpeedIndex", Replicates: []float64{100, 110}},
					{Name: "cputime", Replicates: []float64{5, 6}},
				},
			},
			{
				Name:         "amazon",
				ExtraOptions: []string{"warm"},
				Subtests: []Subtest{
					{Name: "SpeedIndex", Replicates: []float64{50, 55}},
				},
			},
		},
	})

	set, err := Organize([]string{path})
	if err != nil {
		t.Fatalf("Organize: %v", err)
	}
	if got := set[Cold]["SpeedIndex"]; !reflect.DeepEqual(got, []float64{100, 110}) {
		t.Errorf("cold SpeedIndex = %v", got)
	}
	if got := set[Warm]["SpeedIndex"]; !reflect.DeepEqual(got, []float64{50, 55}) {
		t.Errorf("warm SpeedIndex = %v", got)
	}
	if _, ok := set[Cold]["cputime"]; ok {
		t.Error("cputime metric should be excluded")
	}
}

func TestOrganizeConcatenatesRetriggers(t *testing.T) {
	dir := t.TempDir()
	mk := func(name string, reps []float64) string {
		return writeData(t, dir, name, Data{
			Suites: []Suite{{
				Name:         "bing",
				ExtraOptions: []string{"warm"},
				Subtests:     []Subtest{{Name: "fcp", Replicates: reps}},
			}},
		})
	}
	p1 := mk("a.json", []float64{1, 2})
	p2 := mk("b.json", []float64{3})

	set, err := Organize([]string{p1, p2})
	if err != nil {
		t.Fatalf("Organize: %v", err)
	}
	if got := set[Warm]["fcp"]; !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Errorf("merged replicates = %v, want [1 2 3]", got)
	}
}

func TestSuitePageloadTypeDefaultsWarm(t *testing.T) {
	s := Suite{ExtraOptions: []string{"fission"}}
	if s.PageloadType() != Warm {
		t.Error("suite without cold option should be warm")
	}
}

func TestSortNicely(t *testing.T) {
	in := []string{"run-10", "run-2", "run-1"}
	want := []string{"run-1", "run-2", "run-10"}
	if got := SortNicely(in); !reflect.DeepEqual(got, want) {
		t.Errorf("SortNicely = %v, want %v", got, want)
	}
}

func TestFindDataFilesPicksLatestRun(t *testing.T) {
	root := t.TempDir()
	group := "ABCgroup"
	for _, run := range []string{"1", "2"} {
		dir := filepath.Join(root, group, run, "amazon")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "task1+-+perfherder-data.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := FindDataFiles(root, group, -1, "perfherder-data")
	if err != nil {
		t.Fatalf("FindDataFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("found %d files, want 1", len(files))
	}
	if filepath.Base(filepath.Dir(filepath.Dir(files[0]))) != "2" {
		t.Errorf("expected file from run 2, got %s", files[0])
	}
}

func TestFindDataFilesMissingGroup(t *testing.T) {
	if _, err := FindDataFiles(t.TempDir(), "nope", -1, "perfherder-data"); err == nil {
		t.Error("expected error for missing task group")
	}
}
