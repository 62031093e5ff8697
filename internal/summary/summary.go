// Package summary condenses per-push pageload results exported from the
// telemetry warehouse into one trend line per platform, application,
// variant and pageload type. Pushes close together in time are bucketed,
// per-test means are folded with a geometric mean, and a moving average
// smooths the series.
package summary

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perfscope/perfscope/internal/stats"
)

const (
	// DefaultTimespan is the minimum gap in hours between buckets.
	DefaultTimespan = 24

	// DefaultMovingAverageWindow is the smoothing window in days.
	DefaultMovingAverageWindow = 7
)

// pushTimeLayout is how the warehouse formats push timestamps.
const pushTimeLayout = "2006-01-02 15:04"

// Options filter and shape a summary run.
type Options struct {
	Timespan            int // hours between buckets
	MovingAverageWindow int // days

	Platforms       []string // exact platform names; empty means all
	PlatformPattern string   // substring match; empty means all
	App             string   // single application; empty means all
	StartDate       time.Time
	EndDate         time.Time

	// BySite splits the breakdown per site by folding the suite name
	// into the platform key.
	BySite bool
}

// Entry is the summarized trend for one (platform, app, variant,
// pageload) combination.
type Entry struct {
	Platform string `json:"platform"`
	App      string `json:"application"`
	Variant  string `json:"variant"`
	Pageload string `json:"pageload"`

	Values        []stats.Point `json:"values"`
	MovingAverage []stats.Point `json:"moving_average"`
}

// row is one parsed CSV line after filtering.
type row struct {
	platform string
	app      string
	variant  string
	pageload string
	test     string
	pushTime time.Time
	value    float64
}

// ReadCSV loads the warehouse export. Columns are located by header
// name so the query can carry extra fields.
func ReadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary data: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse summary data %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("summary data %s has no rows", path)
	}
	return rows, nil
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.Contains(h, name) {
			return i
		}
	}
	return -1
}

// parseRows applies the option filters and normalizes each CSV line.
func parseRows(data [][]string, opts Options) ([]row, error) {
	header := data[0]
	cols := map[string]int{}
	for _, name := range []string{"platform", "suite", "extra_options", "value", "push_timestamp", "application"} {
		i := findColumn(header, name)
		if i < 0 {
			return nil, fmt.Errorf("summary data is missing a %q column", name)
		}
		cols[name] = i
	}

	wantPlatform := map[string]bool{}
	for _, p := range opts.Platforms {
		wantPlatform[p] = true
	}

	var out []row
	for _, entry := range data[1:] {
		platform := entry[cols["platform"]]
		if len(wantPlatform) > 0 && !wantPlatform[platform] {
			continue
		}
		if opts.PlatformPattern != "" && !strings.Contains(platform, opts.PlatformPattern) {
			continue
		}

		pushTime, err := time.Parse(pushTimeLayout, entry[cols["push_timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("bad push timestamp %q: %w", entry[cols["push_timestamp"]], err)
		}
		if !opts.StartDate.IsZero() && pushTime.Before(opts.StartDate) {
			continue
		}
		if !opts.EndDate.IsZero() && pushTime.After(opts.EndDate) {
			continue
		}

		app := entry[cols["application"]]
		if opts.App != "" && opts.App != app {
			continue
		}

		extras := strings.Fields(entry[cols["extra_options"]])
		// Runs without a pageload marker come from a different harness;
		// live sites and profiler runs are too noisy to trend.
		if !containsStr(extras, "warm") && !containsStr(extras, "cold") {
			continue
		}
		if containsStr(extras, "live") || containsStr(extras, "gecko-profile") {
			continue
		}

		pageload := "cold"
		if containsStr(extras, "warm") {
			pageload = "warm"
		}

		value, err := strconv.ParseFloat(entry[cols["value"]], 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", entry[cols["value"]], err)
		}

		test := entry[cols["suite"]]
		if opts.BySite {
			platform += "-" + test
		}

		sort.Strings(extras)
		out = append(out, row{
			platform: platform,
			app:      app,
			variant:  variantName(extras),
			pageload: pageload,
			test:     test + "-" + app + "-" + strings.Join(extras, "-"),
			pushTime: pushTime,
			value:    value,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rows matched the requested platforms")
	}
	return out, nil
}

// variantName folds the run options into a variant label. Plain e10s is
// the baseline; fission and webrender runs are named by what they add.
func variantName(extras []string) string {
	var parts []string
	if containsStr(extras, "fission") {
		parts = append(parts, "fission")
	}
	if containsStr(extras, "webrender") {
		parts = append(parts, "webrender")
	}
	if len(parts) == 0 {
		return "e10s"
	}
	return strings.Join(parts, "-")
}

// Summarize buckets, folds and smooths the filtered rows.
func Summarize(data [][]string, opts Options) ([]Entry, error) {
	if opts.Timespan <= 0 {
		opts.Timespan = DefaultTimespan
	}
	if opts.MovingAverageWindow <= 0 {
		opts.MovingAverageWindow = DefaultMovingAverageWindow
	}

	rows, err := parseRows(data, opts)
	if err != nil {
		return nil, err
	}

	type groupKey struct{ platform, app, variant, pageload string }
	type testSamples map[string]map[time.Time][]float64 // test -> push time -> values

	groups := map[groupKey]testSamples{}
	for _, r := range rows {
		k := groupKey{r.platform, r.app, r.variant, r.pageload}
		if groups[k] == nil {
			groups[k] = testSamples{}
		}
		if groups[k][r.test] == nil {
			groups[k][r.test] = map[time.Time][]float64{}
		}
		groups[k][r.test][r.pushTime] = append(groups[k][r.test][r.pushTime], r.value)
	}

	var entries []Entry
	for k, tests := range groups {
		times := map[time.Time]bool{}
		for _, samples := range tests {
			for t := range samples {
				times[t] = true
			}
		}
		buckets := aggregate(keys(times), time.Duration(opts.Timespan)*time.Hour)

		var values []stats.Point
		for _, bucket := range buckets {
			// One mean per test in the bucket, folded with a geomean so
			// no single site dominates.
			var perTest []float64
			for _, samples := range tests {
				var vals []float64
				for _, t := range bucket {
					vals = append(vals, samples[t]...)
				}
				if len(vals) > 0 {
					perTest = append(perTest, stats.Mean(vals))
				}
			}
			if len(perTest) == 0 {
				continue
			}
			values = append(values, stats.Point{
				Time:  bucket[len(bucket)-1],
				Value: stats.GeoMean(perTest),
			})
		}
		if len(values) == 0 {
			continue
		}

		entries = append(entries, Entry{
			Platform:      k.platform,
			App:           k.app,
			Variant:       k.variant,
			Pageload:      k.pageload,
			Values:        values,
			MovingAverage: stats.MovingAverage(values, opts.MovingAverageWindow),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.App != b.App {
			return a.App > b.App // firefox before chrome/chromium
		}
		if a.Variant != b.Variant {
			return a.Variant > b.Variant
		}
		return a.Pageload < b.Pageload
	})
	slog.Debug("summary built", "entries", len(entries))
	return entries, nil
}

// aggregate groups push times into buckets at least minGap apart,
// walking from the newest point backwards. Buckets come back oldest
// first with their members in ascending time order.
func aggregate(times []time.Time, minGap time.Duration) [][]time.Time {
	if len(times) == 0 {
		return nil
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })

	var buckets [][]time.Time
	current := []time.Time{times[0]}
	for _, t := range times[1:] {
		if current[0].Sub(t) < minGap {
			current = append(current, t)
		} else {
			buckets = append(buckets, reversed(current))
			current = []time.Time{t}
		}
	}
	buckets = append(buckets, reversed(current))

	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return buckets
}

func reversed(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[len(ts)-1-i] = t
	}
	return out
}

func keys(m map[time.Time]bool) []time.Time {
	out := make([]time.Time, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	return out
}

func containsStr(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
