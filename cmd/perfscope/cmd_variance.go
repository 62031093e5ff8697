package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/perfherder"
	"github.com/perfscope/perfscope/internal/stats"
)

var varAlpha float64

var varianceCmd = &cobra.Command{
	Use:   "variance <base-glob> <new-glob>",
	Short: "Compare metric variance between two sets of perfherder data",
	Long: "Loads two sets of perfherder-data files and runs Levene's test per\n" +
		"metric to flag where run-to-run noise changed.",
	Args: cobra.ExactArgs(2),
	RunE: runVariance,
}

func init() {
	varianceCmd.Flags().Float64Var(&varAlpha, "alpha", 0.05, "Significance level for Levene's test")
	rootCmd.AddCommand(varianceCmd)
}

func globMetrics(pattern string) (perfherder.MetricSet, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match %q", pattern)
	}
	return perfherder.Organize(paths)
}

// compareVariance clips samples outside two sigma from each group
// before running Levene's test, so a single spiked replicate cannot
// masquerade as a variance change.
func compareVariance(baseVals, newVals []float64) (stats.LeveneResult, error) {
	return stats.Levene(
		stats.ClipOutliers(baseVals, 2),
		stats.ClipOutliers(newVals, 2),
	)
}

func runVariance(cmd *cobra.Command, args []string) error {
	base, err := globMetrics(args[0])
	if err != nil {
		return err
	}
	nw, err := globMetrics(args[1])
	if err != nil {
		return err
	}

	flagged := 0
	for _, pl := range perfherder.PageloadTypes {
		metrics := base.Metrics(pl)
		sort.Strings(metrics)
		for _, metric := range metrics {
			baseVals := base[pl][metric]
			newVals := nw[pl][metric]
			if len(newVals) == 0 {
				continue
			}
			res, err := compareVariance(baseVals, newVals)
			if err != nil {
				continue
			}
			marker := " "
			if res.PValue <= varAlpha {
				marker = "*"
				flagged++
			}
			fmt.Printf("%s %s/%-30s W=%.3f p=%.4f  base sd=%.2f new sd=%.2f\n",
				marker, pl, metric, res.W, res.PValue,
				stats.StdDev(baseVals), stats.StdDev(newVals))
		}
	}
	if flagged > 0 {
		fmt.Printf("%d metrics changed variance at alpha %.2f\n", flagged, varAlpha)
	}
	return nil
}
