package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/cover"
	"github.com/perfscope/perfscope/pkg/client"
)

var (
	apiServerURL string
	runsLimit    int
	runsJSON     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect detection runs stored on a perfscope server",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored detection runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := client.New(apiServerURL).ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if runsJSON {
			return json.NewEncoder(os.Stdout).Encode(runs)
		}
		for _, r := range runs {
			fmt.Printf("%s  %-30s %-40s %s..%s\n",
				r.ID, r.TestName, r.Platform, r.BaseRevision, r.NewRevision)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its detected changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := client.New(apiServerURL).GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if runsJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		fmt.Printf("%s: %s on %s, %s..%s (depth %d)\n",
			run.ID, run.TestName, run.Platform, run.BaseRevision, run.NewRevision, run.Depth)
		for _, c := range run.Changes {
			fmt.Printf("  %s  %s/%s  diff=%.4f  p=%.4f  effect=%.3f\n",
				c.Revision, c.Pageload, c.Metric, c.Diff, c.PValue, c.EffectSize)
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run and its changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.New(apiServerURL).DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert history stored on a perfscope server",
}

var alertsLoadCmd = &cobra.Command{
	Use:   "load <alerts.csv>",
	Short: "Load a warehouse alert export into the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := cover.ReadCSV(args[0])
		if err != nil {
			return err
		}
		alerts := make([]client.Alert, 0, len(records))
		for _, rec := range records {
			alerts = append(alerts, client.Alert{SummaryID: rec.SummaryID, Suite: rec.Suite})
		}
		n, err := client.New(apiServerURL).InsertAlerts(cmd.Context(), alerts)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d new alert records (%d total in file)\n", n, len(alerts))
		return nil
	},
}

var alertsMinimizeCmd = &cobra.Command{
	Use:   "minimize",
	Short: "Minimize the test set over the server's alert history",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := client.New(apiServerURL).Minimize(cmd.Context(), covIterations, covSeed)
		if err != nil {
			return err
		}
		if runsJSON {
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

func init() {
	runsCmd.PersistentFlags().StringVar(&apiServerURL, "server", "http://localhost:8080", "perfscope server URL")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Print results as JSON")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)

	alertsCmd.PersistentFlags().StringVar(&apiServerURL, "server", "http://localhost:8080", "perfscope server URL")
	alertsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Print results as JSON")
	alertsMinimizeCmd.Flags().IntVar(&covIterations, "iterations", cover.DefaultIterations, "Shuffled minimization rounds")
	alertsMinimizeCmd.Flags().Int64Var(&covSeed, "seed", 0, "Random seed (0 uses the server default)")

	alertsCmd.AddCommand(alertsLoadCmd)
	alertsCmd.AddCommand(alertsMinimizeCmd)
	rootCmd.AddCommand(alertsCmd)
}
