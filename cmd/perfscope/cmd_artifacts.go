package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/artifact"
)

var (
	dlOutput    string
	dlTests     []string
	dlArtifacts []string
	dlPlatform  string
	dlUnzip     bool
	dlFailures  bool
	dlResume    bool
	dlWorkers   int
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Download and inspect CI task artifacts",
}

var artifactsDownloadCmd = &cobra.Command{
	Use:   "download <task-group-id>",
	Short: "Download artifacts from every task in a task group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeCache, err := newCIClient()
		if err != nil {
			return err
		}
		defer closeCache()

		dl := artifact.NewDownloader(client, artifact.WithWorkers(dlWorkers))
		res, err := dl.Download(cmd.Context(), artifact.Request{
			GroupID:          args[0],
			OutputDir:        dlOutput,
			TestSuites:       dlTests,
			Artifacts:        dlArtifacts,
			Platform:         dlPlatform,
			Unzip:            dlUnzip,
			DownloadFailures: dlFailures,
			Resume:           dlResume,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Downloaded %d artifacts into %s (%d failed tasks skipped)\n",
			res.Downloaded, res.RunDir, len(res.Failed))
		if res.HeadRev != "" {
			fmt.Printf("Head revision: %s\n", res.HeadRev)
		}
		return nil
	},
}

var artifactsRunsCmd = &cobra.Command{
	Use:   "runs <group-dir>",
	Short: "List the numbered download runs under a task group directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := artifact.RunDirs(args[0])
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	},
}

func init() {
	artifactsDownloadCmd.Flags().StringVarP(&dlOutput, "output", "o", ".", "Directory to download artifacts into")
	artifactsDownloadCmd.Flags().StringSliceVar(&dlTests, "test", []string{"all"}, "Test suites to download (repeatable; 'all' for everything)")
	artifactsDownloadCmd.Flags().StringSliceVar(&dlArtifacts, "artifact", nil, "Artifact name patterns to download (default perfherder-data)")
	artifactsDownloadCmd.Flags().StringVar(&dlPlatform, "platform", "", "Only download from tasks on this platform")
	artifactsDownloadCmd.Flags().BoolVar(&dlUnzip, "unzip", true, "Extract downloaded archives")
	artifactsDownloadCmd.Flags().BoolVar(&dlFailures, "download-failures", false, "Also download artifacts from failed tasks")
	artifactsDownloadCmd.Flags().BoolVar(&dlResume, "resume", false, "Resume into the latest existing run directory")
	artifactsDownloadCmd.Flags().IntVar(&dlWorkers, "workers", 5, "Concurrent download workers")

	artifactsCmd.AddCommand(artifactsDownloadCmd)
	artifactsCmd.AddCommand(artifactsRunsCmd)
	rootCmd.AddCommand(artifactsCmd)
}
