package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/summary"
	"github.com/perfscope/perfscope/pkg/client"
)

var (
	sumTimespan        int
	sumWindow          int
	sumPlatforms       []string
	sumPlatformPattern string
	sumApp             string
	sumStart           string
	sumEnd             string
	sumBySite          bool
	sumFormat          string
	sumServerURL       string
)

var summaryCmd = &cobra.Command{
	Use:   "summary <data.csv>",
	Short: "Summarize pageload trends from a warehouse export",
	Long: "Buckets pageload test results over time, folds each bucket into a\n" +
		"geometric mean per platform/app/variant and smooths the series with a\n" +
		"moving average.",
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().IntVar(&sumTimespan, "timespan", summary.DefaultTimespan, "Minimum hours between buckets")
	summaryCmd.Flags().IntVar(&sumWindow, "window", summary.DefaultMovingAverageWindow, "Moving average window in days")
	summaryCmd.Flags().StringSliceVar(&sumPlatforms, "platform", nil, "Exact platforms to include (repeatable)")
	summaryCmd.Flags().StringVar(&sumPlatformPattern, "platform-pattern", "", "Substring platform filter")
	summaryCmd.Flags().StringVar(&sumApp, "app", "", "Only include this application")
	summaryCmd.Flags().StringVar(&sumStart, "start", "", "Only include pushes on or after this date (YYYY-MM-DD)")
	summaryCmd.Flags().StringVar(&sumEnd, "end", "", "Only include pushes on or before this date (YYYY-MM-DD)")
	summaryCmd.Flags().BoolVar(&sumBySite, "by-site", false, "Break the summary down per site")
	summaryCmd.Flags().StringVar(&sumFormat, "format", "table", "Output format: table, csv or json")
	summaryCmd.Flags().StringVar(&sumServerURL, "server", "", "perfscope server URL to persist snapshots to")

	rootCmd.AddCommand(summaryCmd)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func runSummary(cmd *cobra.Command, args []string) error {
	start, err := parseDay(sumStart)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := parseDay(sumEnd)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}

	data, err := summary.ReadCSV(args[0])
	if err != nil {
		return err
	}

	entries, err := summary.Summarize(data, summary.Options{
		Timespan:            sumTimespan,
		MovingAverageWindow: sumWindow,
		Platforms:           sumPlatforms,
		PlatformPattern:     sumPlatformPattern,
		App:                 sumApp,
		StartDate:           start,
		EndDate:             end,
		BySite:              sumBySite,
	})
	if err != nil {
		return err
	}

	if sumServerURL != "" {
		if err := saveSnapshots(cmd, entries); err != nil {
			return err
		}
	}

	switch sumFormat {
	case "csv":
		return summary.WriteCSV(os.Stdout, entries)
	case "json":
		return summary.WriteJSON(os.Stdout, entries)
	case "table":
		return summary.WriteTable(os.Stdout, entries)
	default:
		return fmt.Errorf("unknown format %q", sumFormat)
	}
}

func saveSnapshots(cmd *cobra.Command, entries []summary.Entry) error {
	api := client.New(sumServerURL)
	for _, e := range entries {
		series, err := json.Marshal(e.MovingAverage)
		if err != nil {
			return fmt.Errorf("encode series: %w", err)
		}
		_, err = api.SaveSnapshot(cmd.Context(), &client.Snapshot{
			Platform: e.Platform,
			App:      e.App,
			Variant:  e.Variant,
			Pageload: e.Pageload,
			Series:   series,
		})
		if err != nil {
			return fmt.Errorf("persist snapshot for %s: %w", e.Platform, err)
		}
	}
	fmt.Printf("Saved %d snapshots\n", len(entries))
	return nil
}
