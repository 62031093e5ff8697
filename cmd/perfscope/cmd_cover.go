package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/cover"
)

var (
	covIterations int
	covSeed       int64
	covJSON       bool
)

var coverCmd = &cobra.Command{
	Use:   "cover",
	Short: "Pick a minimal test set that still catches historic alerts",
}

var coverMinimizeCmd = &cobra.Command{
	Use:   "minimize <alerts.csv>",
	Short: "Find the smallest suite set covering every alert summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := cover.ReadCSV(args[0])
		if err != nil {
			return err
		}
		var rng *rand.Rand
		if covSeed != 0 {
			rng = rand.New(rand.NewSource(covSeed))
		}
		result, err := cover.Minimize(records, covIterations, rng)
		if err != nil {
			return err
		}

		if covJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		fmt.Printf("Kept %d of %d suites, catching %.1f%% of %d alert summaries:\n",
			len(result.Tests), result.SuiteCount, result.CaughtPct, result.AlertCount)
		for _, t := range result.Tests {
			fmt.Printf("  %s\n", t)
		}
		return nil
	},
}

var coverViewCmd = &cobra.Command{
	Use:   "view <alerts.csv>",
	Short: "Show per-suite alert counts and unique catches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := cover.ReadCSV(args[0])
		if err != nil {
			return err
		}
		suites := cover.Breakdown(records)
		if covJSON {
			return json.NewEncoder(os.Stdout).Encode(suites)
		}
		for _, s := range suites {
			fmt.Printf("%-40s caught=%-4d unique=%d\n", s.Suite, s.Caught, s.Unique)
		}
		return nil
	},
}

func init() {
	coverCmd.PersistentFlags().BoolVar(&covJSON, "json", false, "Print results as JSON")
	coverMinimizeCmd.Flags().IntVar(&covIterations, "iterations", cover.DefaultIterations, "Shuffled minimization rounds")
	coverMinimizeCmd.Flags().Int64Var(&covSeed, "seed", 0, "Random seed (0 uses a random source)")

	coverCmd.AddCommand(coverMinimizeCmd)
	coverCmd.AddCommand(coverViewCmd)
	rootCmd.AddCommand(coverCmd)
}
