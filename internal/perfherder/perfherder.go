// Package perfherder models the performance-data artifacts emitted by
// browser pageload CI tasks: suites of subtests, each carrying the raw
// replicate samples for one metric.
package perfherder

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PageloadType partitions replicates by how the page was loaded.
type PageloadType string

const (
	Cold PageloadType = "cold"
	Warm PageloadType = "warm"
)

// PageloadTypes lists the partitions in their canonical order.
var PageloadTypes = []PageloadType{Warm, Cold}

// Data is the top-level shape of a perfherder-data artifact.
type Data struct {
	Framework Framework `json:"framework"`
	Suites    []Suite   `json:"suites"`
}

type Framework struct {
	Name string `json:"name"`
}

// Suite is one test suite run; ExtraOptions carries run variants such as
// "cold", "warm", "fission" or "live".
type Suite struct {
	Name         string    `json:"name"`
	ExtraOptions []string  `json:"extraOptions"`
	Subtests     []Subtest `json:"subtests"`
	Value        float64   `json:"value"`
}

// Subtest is a single metric with its raw replicate samples.
type Subtest struct {
	Name          string    `json:"name"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`
	LowerIsBetter bool      `json:"lowerIsBetter"`
	Replicates    []float64 `json:"replicates"`
}

// PageloadType returns the partition for the suite based on its options.
func (s Suite) PageloadType() PageloadType {
	for _, opt := range s.ExtraOptions {
		if opt == "cold" {
			return Cold
		}
	}
	return Warm
}

// MetricSet holds replicates per metric name, partitioned by pageload type.
type MetricSet map[PageloadType]map[string][]float64

// NewMetricSet returns a MetricSet with both partitions initialized.
func NewMetricSet() MetricSet {
	return MetricSet{Cold: {}, Warm: {}}
}

// Load reads and decodes a single perfherder-data file.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read perfherder data: %w", err)
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode perfherder data %s: %w", path, err)
	}
	return &d, nil
}

// Organize merges the replicates from a set of perfherder-data files into
// one MetricSet. Files are processed in order, so retrigger samples for
// the same metric concatenate deterministically. CPU-time metrics are
// excluded; they are a different measurement family from the visual ones
// the detector compares.
func Organize(paths []string) (MetricSet, error) {
	set := NewMetricSet()
	for _, path := range paths {
		d, err := Load(path)
		if err != nil {
			return nil, err
		}
		set.Merge(d)
	}
	return set, nil
}

// Merge folds one decoded artifact into the set.
func (ms MetricSet) Merge(d *Data) {
	for _, suite := range d.Suites {
		plType := suite.PageloadType()
		for _, sub := range suite.Subtests {
			if strings.Contains(strings.ToLower(sub.Name), "cputime") {
				continue
			}
			ms[plType][sub.Name] = append(ms[plType][sub.Name], sub.Replicates...)
		}
	}
}

// Metrics returns the metric names present for a pageload type.
func (ms MetricSet) Metrics(plType PageloadType) []string {
	names := make([]string, 0, len(ms[plType]))
	for name := range ms[plType] {
		names = append(names, name)
	}
	return names
}
