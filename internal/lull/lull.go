// Package lull schedules extra performance tasks into quiet periods of
// the hardware pools. A pool qualifies when it has no pending tasks and
// enough machines sitting idle; candidate tasks are then packed into the
// spare minutes, most-starved first.
package lull

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/perfscope/perfscope/internal/ci"
)

const (
	// MaxTimeToAdd caps the minutes of work added per platform per run.
	MaxTimeToAdd = 600

	// MinMachinesAvailable is the idle-machine floor below which a
	// platform is left alone.
	MinMachinesAvailable = 10

	// MachineIdleTime is how long a machine must have been idle, in
	// minutes, to count as available.
	MachineIdleTime = 10

	// DefaultTaskRunTime is the assumed runtime in minutes for tasks
	// with no recorded average.
	DefaultTaskRunTime = 20

	// DefaultTaskFrequency is how often a task without an explicit
	// frequency wants to run.
	DefaultTaskFrequency = 7 * 24 * time.Hour
)

// WorkerPool names the Taskcluster pool serving one test platform.
type WorkerPool struct {
	ProvisionerID string `json:"provisionerId"`
	WorkerType    string `json:"workerType"`
}

// DefaultPools maps test platforms to the hardware pools that run them.
var DefaultPools = map[string]WorkerPool{
	"windows10-64-shippable-qr": {
		ProvisionerID: "releng-hardware",
		WorkerType:    "gecko-t-win10-64-1803-hw",
	},
	"android-hw-a51-11-0-aarch64-shippable-qr": {
		ProvisionerID: "proj-autophone",
		WorkerType:    "gecko-t-bitbar-gw-perf-a51",
	},
	"macosx1015-64-shippable-qr": {
		ProvisionerID: "releng-hardware",
		WorkerType:    "gecko-t-osx-1015-r8",
	},
	"linux1804-64-shippable-qr": {
		ProvisionerID: "releng-hardware",
		WorkerType:    "gecko-t-linux-talos-1804",
	},
}

// Capacity is the spare headroom found on one platform.
type Capacity struct {
	Platform          string  `json:"platform"`
	MachinesAvailable int     `json:"machines_available"`
	EstimatedMinutes  float64 `json:"estimated_minutes"`
}

// Plan is the outcome of one scheduling pass.
type Plan struct {
	Capacities   map[string]Capacity `json:"capacities"`
	Selected     []string            `json:"selected"`
	MinutesAdded map[string]float64  `json:"minutes_added"`
}

// Scheduler performs one-shot lull scheduling passes.
type Scheduler struct {
	client         *ci.Client
	pools          map[string]WorkerPool
	graphqlURL     string
	avgTaskURL     string
	avgPlatformURL string
	now            func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPools overrides the platform to worker-pool mapping.
func WithPools(pools map[string]WorkerPool) Option {
	return func(s *Scheduler) { s.pools = pools }
}

// WithGraphQLURL overrides the Taskcluster GraphQL endpoint.
func WithGraphQLURL(url string) Option {
	return func(s *Scheduler) { s.graphqlURL = url }
}

// WithQueryURLs sets the warehouse queries for average task and
// platform runtimes.
func WithQueryURLs(avgTask, avgPlatform string) Option {
	return func(s *Scheduler) {
		s.avgTaskURL = avgTask
		s.avgPlatformURL = avgPlatform
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler on top of a CI client.
func NewScheduler(client *ci.Client, opts ...Option) *Scheduler {
	s := &Scheduler{
		client: client,
		pools:  DefaultPools,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runtimes holds the warehouse averages keyed by task name and by
// platform. Presence in byTask also means the task ran recently, since
// the query only covers the trailing days.
type runtimes struct {
	byTask     map[string]float64
	byPlatform map[string]float64
}

// Schedule fetches pool state and runtime averages, then packs the
// candidate tasks into whatever lull capacity exists. Task names in
// existing are assumed to be scheduled already and are never selected.
func (s *Scheduler) Schedule(ctx context.Context, tasks []Task, existing []string) (*Plan, error) {
	rt, err := s.fetchRuntimes(ctx)
	if err != nil {
		return nil, err
	}
	capacities, err := s.findCapacity(ctx, rt)
	if err != nil {
		return nil, err
	}
	return s.pack(tasks, existing, capacities, rt), nil
}

func (s *Scheduler) fetchRuntimes(ctx context.Context) (*runtimes, error) {
	rt := &runtimes{byTask: map[string]float64{}, byPlatform: map[string]float64{}}

	if s.avgTaskURL != "" {
		rows, err := s.client.QueryRows(ctx, s.avgTaskURL)
		if err != nil {
			return nil, fmt.Errorf("fetch task runtimes: %w", err)
		}
		for _, row := range rows {
			if v, ok := ci.RowFloat(row, "CPU Minutes Spent"); ok {
				rt.byTask[ci.RowString(row, "name")] = v
			}
		}
	}
	if s.avgPlatformURL != "" {
		rows, err := s.client.QueryRows(ctx, s.avgPlatformURL)
		if err != nil {
			return nil, fmt.Errorf("fetch platform runtimes: %w", err)
		}
		for _, row := range rows {
			if v, ok := ci.RowFloat(row, "CPU Minutes Spent"); ok {
				rt.byPlatform[ci.RowString(row, "platform")] = v
			}
		}
	}
	return rt, nil
}

// findCapacity checks every pool for pending work and idle machines.
func (s *Scheduler) findCapacity(ctx context.Context, rt *runtimes) (map[string]Capacity, error) {
	// Pending-task counts come per provisioner; fetch each one once.
	pending := map[string]map[string]int{}
	for _, pool := range s.pools {
		if _, ok := pending[pool.ProvisionerID]; ok {
			continue
		}
		nodes, err := s.client.ListWorkerTypes(ctx, s.graphqlURL, pool.ProvisionerID)
		if err != nil {
			return nil, fmt.Errorf("list worker types: %w", err)
		}
		counts := map[string]int{}
		for _, n := range nodes {
			counts[n.WorkerType] = n.PendingTasks
		}
		pending[pool.ProvisionerID] = counts
	}

	capacities := map[string]Capacity{}
	for platform, pool := range s.pools {
		if n, ok := pending[pool.ProvisionerID][pool.WorkerType]; !ok || n != 0 {
			slog.Info("platform busy", "platform", platform, "pending", n)
			continue
		}

		workers, err := s.client.ListWorkers(ctx, s.graphqlURL, pool.ProvisionerID, pool.WorkerType)
		if err != nil {
			return nil, fmt.Errorf("list workers for %s: %w", platform, err)
		}
		available := 0
		for _, w := range workers {
			if s.machineIdle(w) {
				available++
			}
		}
		slog.Info("idle machines", "platform", platform, "available", available)
		if available < MinMachinesAvailable {
			continue
		}

		minutes := float64(available) * rt.byPlatform[platform]
		capacities[platform] = Capacity{
			Platform:          platform,
			MachinesAvailable: available,
			EstimatedMinutes:  minutes,
		}
	}
	return capacities, nil
}

// machineIdle reports whether a worker finished its last run long
// enough ago to count as spare capacity.
func (s *Scheduler) machineIdle(w ci.WorkerNode) bool {
	if w.LatestTask == nil || w.LatestTask.Run == nil {
		return false
	}
	run := w.LatestTask.Run
	if run.State != "completed" && run.State != "failed" {
		return false
	}
	if w.QuarantineUntil != "" {
		until, err := time.Parse(time.RFC3339, w.QuarantineUntil)
		if err != nil || s.now().Before(until) {
			return false
		}
	}
	if run.Resolved == "" {
		return false
	}
	resolved, err := time.Parse(time.RFC3339, run.Resolved)
	if err != nil {
		return false
	}
	return s.now().Sub(resolved) >= MachineIdleTime*time.Minute
}

// pack greedily fills each platform's budget, most-starved tasks first.
func (s *Scheduler) pack(tasks []Task, existing []string, capacities map[string]Capacity, rt *runtimes) *Plan {
	plan := &Plan{
		Capacities:   capacities,
		MinutesAdded: map[string]float64{},
	}
	for platform := range capacities {
		plan.MinutesAdded[platform] = 0
	}

	scheduled := map[string]bool{}
	for _, name := range existing {
		scheduled[name] = true
	}

	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Frequency() < ordered[j].Frequency()
	})

	for _, task := range ordered {
		capc, ok := capacities[task.Platform]
		if !ok {
			continue
		}
		if scheduled[task.Name] {
			slog.Debug("task already in the graph", "task", task.Name)
			continue
		}
		// The runtime query only covers recent days; a task present
		// there ran more recently than any usable frequency.
		if _, ran := rt.byTask[task.Name]; ran {
			slog.Info("task ran recently, skipping", "task", task.Name)
			continue
		}

		runtime, ok := rt.byPlatform[task.Platform]
		if !ok {
			runtime = DefaultTaskRunTime
		}

		budget := float64(MaxTimeToAdd)
		if capc.EstimatedMinutes > 0 && capc.EstimatedMinutes < budget {
			budget = capc.EstimatedMinutes
		}
		if plan.MinutesAdded[task.Platform]+runtime > budget {
			continue
		}

		plan.MinutesAdded[task.Platform] += runtime
		plan.Selected = append(plan.Selected, task.Name)
	}
	return plan
}
