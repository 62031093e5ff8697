// Package detect finds performance changes across an ordered range of
// pushes by comparing adjacent groups of perfherder replicates with the
// Mann-Whitney U test.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/perfscope/perfscope/internal/artifact"
	"github.com/perfscope/perfscope/internal/ci"
	"github.com/perfscope/perfscope/internal/perfherder"
	"github.com/perfscope/perfscope/internal/stats"
)

var (
	// ErrZeroDepth is returned when the auto-computed push depth would
	// be zero.
	ErrZeroDepth = errors.New("base and new revisions must differ when depth is auto-computed")

	// ErrBranchMismatch is returned when a depth search spans branches.
	ErrBranchMismatch = errors.New("depth search cannot span branches")

	// ErrNoData is returned when fewer than two revisions have usable
	// perfherder data.
	ErrNoData = errors.New("not enough artifacts downloaded to compare")
)

const (
	defaultPValueThreshold = 0.05
	defaultDiffThreshold   = 0.02

	// maxWindow bounds how many neighbouring push groups a borderline
	// comparison may absorb on each side.
	maxWindow = 1
)

// Params configures one detection run.
type Params struct {
	TestName    string
	NewTestName string // defaults to TestName
	Platform    string
	NewPlatform string // defaults to Platform

	BaseBranch string // defaults to autoland
	NewBranch  string

	BaseRevision string
	NewRevision  string

	// Depth selects which pushes are compared: 0 compares the two
	// revisions directly, -1 compares every push between them, and a
	// positive value walks that many pushes back from NewRevision.
	Depth int

	SearchCrons  bool
	SkipDownload bool
	Overwrite    bool

	PValueThreshold float64
	DiffThreshold   float64
}

// Change is one detected difference in one metric at one revision.
type Change struct {
	Revision   string                  `json:"revision"`
	Pageload   perfherder.PageloadType `json:"pageload"`
	Metric     string                  `json:"metric"`
	Diff       float64                 `json:"diff"`
	PValue     float64                 `json:"pvalue"`
	EffectSize float64                 `json:"effect_size"`
}

// Report holds every change a detection run found.
type Report struct {
	Revisions []string `json:"revisions"` // ordered oldest first
	Changed   []string `json:"changed"`   // subset with at least one change
	Changes   []Change `json:"changes"`
}

// Detector drives artifact collection and change detection.
type Detector struct {
	client *ci.Client
	dl     *artifact.Downloader
	outDir string
}

// New creates a Detector writing task data under outDir.
func New(client *ci.Client, dl *artifact.Downloader, outDir string) *Detector {
	return &Detector{client: client, dl: dl, outDir: outDir}
}

type revisionSpec struct {
	revision string
	branch   string
	testName string
	platform string
}

// DetectChanges downloads perfherder data for the requested revisions
// and compares adjacent pushes metric by metric.
func (d *Detector) DetectChanges(ctx context.Context, p Params) (*Report, error) {
	if p.NewTestName == "" {
		p.NewTestName = p.TestName
	}
	if p.NewPlatform == "" {
		p.NewPlatform = p.Platform
	}
	if p.BaseBranch == "" {
		p.BaseBranch = "autoland"
	}
	if p.NewBranch == "" {
		p.NewBranch = p.BaseBranch
	}
	if p.PValueThreshold == 0 {
		p.PValueThreshold = defaultPValueThreshold
	}
	if p.DiffThreshold == 0 {
		p.DiffThreshold = defaultDiffThreshold
	}

	specs := []revisionSpec{
		{p.BaseRevision, p.BaseBranch, p.TestName, p.Platform},
		{p.NewRevision, p.NewBranch, p.NewTestName, p.NewPlatform},
	}
	if p.Depth != 0 {
		if p.BaseBranch != p.NewBranch {
			return nil, fmt.Errorf("%w: %s != %s", ErrBranchMismatch, p.BaseBranch, p.NewBranch)
		}
		if p.Depth < 0 && p.BaseRevision == p.NewRevision {
			return nil, ErrZeroDepth
		}
		revisions, err := d.gatherRevisions(ctx, p)
		if err != nil {
			return nil, err
		}
		specs = specs[:0]
		for _, rev := range revisions {
			specs = append(specs, revisionSpec{rev, p.BaseBranch, p.TestName, p.Platform})
		}
	}

	sets, revisions, err := d.collect(ctx, specs, p)
	if err != nil {
		return nil, err
	}
	return d.compare(sets, revisions, p), nil
}

// gatherRevisions resolves the ordered tip changesets of the push range.
func (d *Detector) gatherRevisions(ctx context.Context, p Params) ([]string, error) {
	endInfo, err := d.client.GetRevision(ctx, p.NewRevision, p.BaseBranch)
	if err != nil {
		return nil, err
	}
	depth := p.Depth
	if depth < 0 {
		startInfo, err := d.client.GetRevision(ctx, p.BaseRevision, p.BaseBranch)
		if err != nil {
			return nil, err
		}
		depth = endInfo.PushID - startInfo.PushID + 1
		slog.Info("auto-computed push depth", "depth", depth)
	}

	pushes, err := d.client.GetPushes(ctx, p.BaseBranch, endInfo.PushID, depth)
	if err != nil {
		return nil, err
	}
	var revisions []string
	for _, id := range ci.SortedPushIDs(pushes) {
		cs := pushes[id].Changesets
		if len(cs) == 0 {
			continue
		}
		revisions = append(revisions, cs[len(cs)-1])
	}
	return revisions, nil
}

// collect downloads and organizes the perfherder data of every
// revision, dropping revisions with no data.
func (d *Detector) collect(ctx context.Context, specs []revisionSpec, p Params) ([]perfherder.MetricSet, []string, error) {
	var (
		sets      []perfherder.MetricSet
		revisions []string
	)
	for _, spec := range specs {
		groupIDs, err := d.client.FindTaskGroupIDs(ctx, spec.revision, spec.branch, p.SearchCrons)
		if err != nil {
			slog.Warn("no task groups for revision", "revision", spec.revision, "error", err)
			continue
		}
		if p.Overwrite {
			for _, id := range groupIDs {
				dir := filepath.Join(d.outDir, id)
				if _, err := os.Stat(dir); err == nil {
					slog.Info("removing existing task group folder", "dir", dir)
					if err := os.RemoveAll(dir); err != nil {
						return nil, nil, fmt.Errorf("remove %s: %w", dir, err)
					}
				}
			}
		}

		files, err := d.dataFiles(ctx, groupIDs, spec, p)
		if err != nil {
			slog.Warn("no data for revision", "revision", spec.revision, "error", err)
			continue
		}
		set, err := perfherder.Organize(files)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, set)
		revisions = append(revisions, spec.revision)
	}
	if len(sets) < 2 {
		return nil, nil, fmt.Errorf("%w: %d revisions with data", ErrNoData, len(sets))
	}
	return sets, revisions, nil
}

// dataFiles finds or downloads the perfherder files of one revision's
// task groups, taking the first group that yields data.
func (d *Detector) dataFiles(ctx context.Context, groupIDs []string, spec revisionSpec, p Params) ([]string, error) {
	var lastErr error
	for _, id := range groupIDs {
		if !p.SkipDownload || p.Overwrite {
			_, err := d.dl.Download(ctx, artifact.Request{
				GroupID:    id,
				OutputDir:  d.outDir,
				TestSuites: []string{spec.testName},
				Artifacts:  []string{"perfherder-data"},
				Platform:   spec.platform,
			})
			if err != nil {
				lastErr = err
				continue
			}
		}
		files, err := perfherder.FindDataFiles(d.outDir, id, -1, "perfherder-data")
		if err != nil {
			lastErr = err
			continue
		}
		return files, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no task groups to search")
	}
	return nil, lastErr
}

// compare walks each metric present in every revision and records the
// pushes where adjacent groups differ.
func (d *Detector) compare(sets []perfherder.MetricSet, revisions []string, p Params) *Report {
	rep := &Report{Revisions: revisions}

	changed := map[string]bool{}
	for _, pl := range perfherder.PageloadTypes {
		for _, metric := range commonMetrics(sets, pl) {
			groups := make([][]float64, len(sets))
			for i, s := range sets {
				groups[i] = s[pl][metric]
			}
			points := compareSeries(groups, p.PValueThreshold, p.DiffThreshold)
			// Across a push range a metric with a single change point is
			// indistinguishable from drift between unrelated pushes; only
			// a direct two-revision comparison may report a lone point.
			if len(revisions) > 2 && len(points) < 2 {
				continue
			}
			for _, pt := range points {
				rev := revisions[pt.index]
				changed[rev] = true
				rep.Changes = append(rep.Changes, Change{
					Revision:   rev,
					Pageload:   pl,
					Metric:     metric,
					Diff:       pt.diff,
					PValue:     pt.pvalue,
					EffectSize: pt.effect,
				})
			}
		}
	}

	for _, rev := range revisions {
		if changed[rev] {
			rep.Changed = append(rep.Changed, rev)
		}
	}
	return rep
}

// commonMetrics returns the metric names present in every revision for
// a pageload type, sorted for stable output. Metrics missing from any
// revision cannot be compared push to push.
func commonMetrics(sets []perfherder.MetricSet, pl perfherder.PageloadType) []string {
	counts := map[string]int{}
	for _, s := range sets {
		for metric := range s[pl] {
			counts[metric]++
		}
	}
	var out []string
	for metric, n := range counts {
		if n == len(sets) {
			out = append(out, metric)
		} else {
			slog.Debug("metric missing from some revisions", "metric", metric, "found", n, "want", len(sets))
		}
	}
	sort.Strings(out)
	return out
}

type changePoint struct {
	index  int
	diff   float64
	pvalue float64
	effect float64
}

// compareSeries runs the adjacent-group comparison over ordered groups
// of replicates. Borderline p-values widen both sides with neighbouring
// groups before deciding; a change needs both a significant p-value and
// a median shift larger than the noise threshold
// (stddev + median*diffThreshold)/median of the older group.
func compareSeries(groups [][]float64, pvalueThreshold, diffThreshold float64) []changePoint {
	if len(groups) < 2 {
		return nil
	}
	var points []changePoint
	prev := append([]float64(nil), groups[0]...)
	for i := 1; i < len(groups); i++ {
		cur := append([]float64(nil), groups[i]...)

		r, err := stats.MannWhitneyU(prev, cur)
		if err != nil {
			prev = cur
			continue
		}

		window := 0
		for window+1 <= maxWindow && r.PValue < 0.06 && r.PValue > 0.001 {
			window++
			if j := i - (window + 1); j >= 0 {
				prev = append(prev, groups[j]...)
			}
			if j := i + window; j < len(groups) {
				cur = append(cur, groups[j]...)
			}
			r, err = stats.MannWhitneyU(prev, cur)
			if err != nil {
				break
			}
			slog.Debug("recomputed borderline score", "index", i, "pvalue", r.PValue)
		}

		if err == nil && r.PValue <= pvalueThreshold {
			prevMed := stats.Median(prev)
			curMed := stats.Median(cur)
			if prevMed != 0 {
				threshold := (stats.StdDev(prev) + prevMed*diffThreshold) / prevMed
				diff := math.Abs(prevMed-curMed) / prevMed
				if diff > threshold {
					points = append(points, changePoint{
						index:  i,
						diff:   diff,
						pvalue: r.PValue,
						effect: r.EffectSize(len(prev), len(cur)),
					})
				}
			}
		}

		prev = cur
	}
	return points
}
