// Package cover selects a minimal set of test suites that still catches
// every known performance alert. Alert history comes in as rows of
// (alert summary, suite) pairs; a randomized greedy set cover picks the
// smallest suite subset seen across many shuffled attempts.
package cover

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
)

// DefaultIterations is how many shuffled minimization rounds run by
// default. More rounds means more chances to escape a bad greedy order.
const DefaultIterations = 100

// Record links one alert summary to a suite that alerted on it.
type Record struct {
	SummaryID string
	Suite     string
}

// Result describes the chosen minimal test set.
type Result struct {
	Tests         []string `json:"tests"`
	RejectedTests []string `json:"rejected_tests"`

	// CaughtPct is the percentage of alert summaries the chosen tests
	// catch; TestsLeftPct is the chosen fraction of all suites.
	CaughtPct    float64 `json:"total_caught"`
	TestsLeftPct float64 `json:"total_tests_left"`

	AlertCount int `json:"alert_count"`
	SuiteCount int `json:"suite_count"`
}

// SuiteStat is the per-suite alert breakdown used by the view command.
type SuiteStat struct {
	Suite string `json:"suite"`

	// Caught counts alert summaries this suite alerted on; Unique
	// counts those no other suite caught.
	Caught int `json:"caught"`
	Unique int `json:"unique"`
}

// ReadCSV loads alert records from a warehouse query export. Columns
// are located by header name so the query can carry extra fields.
func ReadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alert data: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse alert data %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("alert data %s has no rows", path)
	}

	idCol := findColumn(rows[0], "summary_id")
	suiteCol := findColumn(rows[0], "suite")
	if idCol < 0 || suiteCol < 0 {
		return nil, fmt.Errorf("alert data %s is missing summary_id or suite columns", path)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, Record{
			SummaryID: row[idCol],
			Suite:     row[suiteCol],
		})
	}
	return records, nil
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.Contains(h, name) {
			return i
		}
	}
	return -1
}

// incidence maps each alert summary to the set of suites that caught
// it, in first-seen order.
func incidence(records []Record) (map[string][]string, []string, []string) {
	alerts := map[string][]string{}
	var ids, suites []string
	seenSuite := map[string]bool{}
	for _, r := range records {
		if _, ok := alerts[r.SummaryID]; !ok {
			ids = append(ids, r.SummaryID)
		}
		if !containsStr(alerts[r.SummaryID], r.Suite) {
			alerts[r.SummaryID] = append(alerts[r.SummaryID], r.Suite)
		}
		if !seenSuite[r.Suite] {
			seenSuite[r.Suite] = true
			suites = append(suites, r.Suite)
		}
	}
	return alerts, ids, suites
}

// Minimize runs the randomized greedy cover for the given number of
// rounds and keeps the smallest chosen set. A nil rng falls back to the
// global source.
func Minimize(records []Record, iterations int, rng *rand.Rand) (*Result, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no alert records to minimize")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	alerts, ids, suites := incidence(records)

	var best []string
	for round := 0; round < iterations; round++ {
		shuffledIDs := shuffled(ids, rng)
		shuffledSuites := shuffled(suites, rng)
		chosen := coverOnce(alerts, shuffledIDs, shuffledSuites)
		if best == nil || len(chosen) < len(best) {
			best = chosen
		}
	}

	chosenSet := map[string]bool{}
	for _, s := range best {
		chosenSet[s] = true
	}
	var rejected []string
	for _, s := range suites {
		if !chosenSet[s] {
			rejected = append(rejected, s)
		}
	}
	sort.Strings(best)
	sort.Strings(rejected)

	return &Result{
		Tests:         best,
		RejectedTests: rejected,
		CaughtPct:     100,
		TestsLeftPct:  100 * float64(len(best)) / float64(len(suites)),
		AlertCount:    len(ids),
		SuiteCount:    len(suites),
	}, nil
}

// coverOnce walks the alerts in order: singleton alerts force their
// suite in, already-covered alerts are skipped, and the rest greedily
// take the suite covering the most still-uncaught alerts.
func coverOnce(alerts map[string][]string, ids, suiteOrder []string) []string {
	chosen := map[string]bool{}
	caught := map[string]bool{}
	var order []string

	pick := func(s string) {
		if !chosen[s] {
			chosen[s] = true
			order = append(order, s)
		}
	}

	for _, id := range ids {
		suites := alerts[id]
		if len(suites) == 1 {
			pick(suites[0])
			caught[id] = true
			continue
		}

		already := false
		for _, s := range suites {
			if chosen[s] {
				already = true
				break
			}
		}
		if already {
			caught[id] = true
			continue
		}

		bestSuite := ""
		bestCount := -1
		for _, s := range orderedSubset(suiteOrder, suites) {
			n := 0
			for _, other := range ids {
				if !caught[other] && containsStr(alerts[other], s) {
					n++
				}
			}
			if n > bestCount {
				bestCount = n
				bestSuite = s
			}
		}
		if bestSuite != "" {
			pick(bestSuite)
		}
		caught[id] = true
	}
	return order
}

// orderedSubset returns the members of subset in the order they appear
// in full, so the shuffled suite order breaks greedy ties differently
// each round.
func orderedSubset(full, subset []string) []string {
	want := map[string]bool{}
	for _, s := range subset {
		want[s] = true
	}
	var out []string
	for _, s := range full {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// Breakdown reports per-suite alert counts, most-caught first.
func Breakdown(records []Record) []SuiteStat {
	alerts, ids, suites := incidence(records)

	caught := map[string]int{}
	unique := map[string]int{}
	for _, id := range ids {
		for _, s := range alerts[id] {
			caught[s]++
		}
		if len(alerts[id]) == 1 {
			unique[alerts[id][0]]++
		}
	}

	stats := make([]SuiteStat, 0, len(suites))
	for _, s := range suites {
		stats = append(stats, SuiteStat{Suite: s, Caught: caught[s], Unique: unique[s]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Caught != stats[j].Caught {
			return stats[i].Caught > stats[j].Caught
		}
		return stats[i].Suite < stats[j].Suite
	})
	return stats
}

func shuffled(xs []string, rng *rand.Rand) []string {
	out := make([]string, len(xs))
	copy(out, xs)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
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
