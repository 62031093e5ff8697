package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/artifact"
	"github.com/perfscope/perfscope/internal/detect"
	"github.com/perfscope/perfscope/pkg/client"
)

var (
	detTestName     string
	detNewTestName  string
	detPlatform     string
	detNewPlatform  string
	detBaseBranch   string
	detNewBranch    string
	detBaseRevision string
	detNewRevision  string
	detDepth        int
	detSearchCrons  bool
	detSkipDownload bool
	detOverwrite    bool
	detPValue       float64
	detDiff         float64
	detOutput       string
	detJSON         bool
	detServerURL    string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect performance changes between two revisions",
	Long: "Downloads perfherder data for the pushes between two revisions and runs\n" +
		"a Mann-Whitney U test over each metric to find where performance changed.",
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detTestName, "test-name", "", "Test suite to compare (required)")
	detectCmd.Flags().StringVar(&detNewTestName, "new-test-name", "", "Suite name on the new revision when renamed")
	detectCmd.Flags().StringVar(&detPlatform, "platform", "", "Platform to compare (required)")
	detectCmd.Flags().StringVar(&detNewPlatform, "new-platform", "", "Platform on the new revision when different")
	detectCmd.Flags().StringVar(&detBaseBranch, "base-branch", "autoland", "Branch of the base revision")
	detectCmd.Flags().StringVar(&detNewBranch, "branch", "autoland", "Branch of the new revision")
	detectCmd.Flags().StringVar(&detBaseRevision, "base-revision", "", "Base (older) revision (required)")
	detectCmd.Flags().StringVar(&detNewRevision, "new-revision", "", "New revision (required)")
	detectCmd.Flags().IntVar(&detDepth, "depth", 0, "Pushes to walk back: 0 direct, -1 every push in between, N backwards")
	detectCmd.Flags().BoolVar(&detSearchCrons, "search-crons", false, "Also search cron task groups for data")
	detectCmd.Flags().BoolVar(&detSkipDownload, "skip-download", false, "Reuse previously downloaded artifacts")
	detectCmd.Flags().BoolVar(&detOverwrite, "overwrite", false, "Re-download artifacts even when present")
	detectCmd.Flags().Float64Var(&detPValue, "pvalue", 0, "P-value threshold (default 0.05)")
	detectCmd.Flags().Float64Var(&detDiff, "diff", 0, "Relative difference threshold (default 0.02)")
	detectCmd.Flags().StringVarP(&detOutput, "output", "o", "detect-data", "Directory for downloaded artifacts")
	detectCmd.Flags().BoolVar(&detJSON, "json", false, "Print the report as JSON")
	detectCmd.Flags().StringVar(&detServerURL, "server", "", "perfscope server URL to persist the run to")

	detectCmd.MarkFlagRequired("test-name")
	detectCmd.MarkFlagRequired("platform")
	detectCmd.MarkFlagRequired("base-revision")
	detectCmd.MarkFlagRequired("new-revision")

	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ciClient, closeCache, err := newCIClient()
	if err != nil {
		return err
	}
	defer closeCache()

	dl := artifact.NewDownloader(ciClient)
	det := detect.New(ciClient, dl, detOutput)

	report, err := det.DetectChanges(cmd.Context(), detect.Params{
		TestName:        detTestName,
		NewTestName:     detNewTestName,
		Platform:        detPlatform,
		NewPlatform:     detNewPlatform,
		BaseBranch:      detBaseBranch,
		NewBranch:       detNewBranch,
		BaseRevision:    detBaseRevision,
		NewRevision:     detNewRevision,
		Depth:           detDepth,
		SearchCrons:     detSearchCrons,
		SkipDownload:    detSkipDownload,
		Overwrite:       detOverwrite,
		PValueThreshold: detPValue,
		DiffThreshold:   detDiff,
	})
	if err != nil {
		return err
	}

	if detServerURL != "" {
		if err := saveReport(cmd, report); err != nil {
			return err
		}
	}

	if detJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	if len(report.Changes) == 0 {
		fmt.Printf("No changes detected across %d revisions.\n", len(report.Revisions))
		return nil
	}
	fmt.Printf("Changes detected in %d of %d revisions:\n", len(report.Changed), len(report.Revisions))
	for _, c := range report.Changes {
		fmt.Printf("  %s  %s/%s  diff=%.4f  p=%.4f  effect=%.3f\n",
			c.Revision, c.Pageload, c.Metric, c.Diff, c.PValue, c.EffectSize)
	}
	return nil
}

func saveReport(cmd *cobra.Command, report *detect.Report) error {
	api := client.New(detServerURL)
	run := &client.Run{
		TestName:     detTestName,
		Platform:     detPlatform,
		Branch:       detNewBranch,
		BaseRevision: detBaseRevision,
		NewRevision:  detNewRevision,
		Depth:        detDepth,
	}
	for _, c := range report.Changes {
		run.Changes = append(run.Changes, client.Change{
			Revision:   c.Revision,
			Pageload:   string(c.Pageload),
			Metric:     c.Metric,
			Diff:       c.Diff,
			PValue:     c.PValue,
			EffectSize: c.EffectSize,
		})
	}
	created, err := api.SaveRun(cmd.Context(), run)
	if err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	fmt.Printf("Saved run %s\n", created.ID)
	return nil
}
