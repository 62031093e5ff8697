package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/lull"
)

var (
	lullExisting string
	lullJSON     bool
)

var lullCmd = &cobra.Command{
	Use:   "lull",
	Short: "Schedule extra test tasks into idle CI capacity",
}

var lullScheduleCmd = &cobra.Command{
	Use:   "schedule <tasks.json>",
	Short: "Pick tasks that fit the current hardware lull",
	Long: "Reads a task manifest, measures idle machines per hardware pool and\n" +
		"packs the most overdue tasks into the spare minutes.",
	Args: cobra.ExactArgs(1),
	RunE: runLullSchedule,
}

func init() {
	lullScheduleCmd.Flags().StringVar(&lullExisting, "existing", "", "JSON file listing task names already in the task graph")
	lullScheduleCmd.Flags().BoolVar(&lullJSON, "json", false, "Print the plan as JSON")

	lullCmd.AddCommand(lullScheduleCmd)
	rootCmd.AddCommand(lullCmd)
}

func runLullSchedule(cmd *cobra.Command, args []string) error {
	tasks, err := lull.LoadTasks(args[0])
	if err != nil {
		return err
	}

	var existing []string
	if lullExisting != "" {
		raw, err := os.ReadFile(lullExisting)
		if err != nil {
			return fmt.Errorf("read existing tasks: %w", err)
		}
		if err := json.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("parse existing tasks: %w", err)
		}
	}

	client, closeCache, err := newCIClient()
	if err != nil {
		return err
	}
	defer closeCache()

	plan, err := lull.NewScheduler(client).Schedule(cmd.Context(), tasks, existing)
	if err != nil {
		return err
	}

	if lullJSON {
		return json.NewEncoder(os.Stdout).Encode(plan)
	}

	platforms := make([]string, 0, len(plan.Capacities))
	for p := range plan.Capacities {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		c := plan.Capacities[p]
		fmt.Printf("%-45s machines=%-3d budget=%.0f min  adding=%.0f min\n",
			p, c.MachinesAvailable, c.EstimatedMinutes, plan.MinutesAdded[p])
	}
	if len(plan.Selected) == 0 {
		fmt.Println("No tasks fit the current lull.")
		return nil
	}
	fmt.Printf("Selected %d tasks:\n", len(plan.Selected))
	for _, name := range plan.Selected {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
