package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/sidebyside"
)

var (
	sbsBaseVideos  []string
	sbsNewVideos   []string
	sbsOutput      string
	sbsFilename    string
	sbsMostSimilar bool
	sbsGIF         bool
	sbsSlowMotion  bool
	sbsCutBase     int
	sbsCutNew      int
	sbsSkipPairing bool
)

var sideBySideCmd = &cobra.Command{
	Use:   "side-by-side",
	Short: "Build a side-by-side comparison video of two pageload recordings",
	Long: "Scores every base/new recording pair by pixel-histogram rank correlation,\n" +
		"picks the least similar pair, trims the recorder warmup frames and renders\n" +
		"a labelled side-by-side video with ffmpeg.",
	RunE: runSideBySide,
}

func init() {
	sideBySideCmd.Flags().StringSliceVar(&sbsBaseVideos, "base-video", nil, "Base recording (repeatable)")
	sideBySideCmd.Flags().StringSliceVar(&sbsNewVideos, "new-video", nil, "New recording (repeatable)")
	sideBySideCmd.Flags().StringVarP(&sbsOutput, "output", "o", ".", "Directory for the comparison output")
	sideBySideCmd.Flags().StringVar(&sbsFilename, "filename", "side-by-side.mp4", "Output video filename")
	sideBySideCmd.Flags().BoolVar(&sbsMostSimilar, "most-similar", false, "Pick the most similar pair instead of the least")
	sideBySideCmd.Flags().BoolVar(&sbsGIF, "gif", false, "Also render an animated GIF")
	sideBySideCmd.Flags().BoolVar(&sbsSlowMotion, "slow-motion", false, "Render the GIF in slow motion")
	sideBySideCmd.Flags().IntVar(&sbsCutBase, "cut-base", -1, "Frames to cut from the base video (overrides detection)")
	sideBySideCmd.Flags().IntVar(&sbsCutNew, "cut-new", -1, "Frames to cut from the new video (overrides detection)")
	sideBySideCmd.Flags().BoolVar(&sbsSkipPairing, "skip-pairing", false, "Use the first base/new videos without similarity scoring")

	sideBySideCmd.MarkFlagRequired("base-video")
	sideBySideCmd.MarkFlagRequired("new-video")

	rootCmd.AddCommand(sideBySideCmd)
}

func runSideBySide(cmd *cobra.Command, args []string) error {
	b, err := sidebyside.NewBuilder(sbsOutput)
	if err != nil {
		return err
	}

	var pair *sidebyside.Pair
	if sbsSkipPairing {
		pair = &sidebyside.Pair{BaseVideo: sbsBaseVideos[0], NewVideo: sbsNewVideos[0]}
	} else {
		pair, err = b.PickPair(cmd.Context(), sbsBaseVideos, sbsNewVideos, sbsMostSimilar)
		if err != nil {
			return err
		}
		if err := sidebyside.SaveMetadata(sbsOutput, pair); err != nil {
			return err
		}
		fmt.Printf("Paired %s with %s (similarity %.3f)\n",
			pair.BaseVideo, pair.NewVideo, pair.Similarity)
	}

	baseCut, newCut := pair.BaseFrameIndex, pair.NewFrameIndex
	if sbsCutBase >= 0 {
		baseCut = sbsCutBase
	}
	if sbsCutNew >= 0 {
		newCut = sbsCutNew
	}

	out, err := b.Build(cmd.Context(), pair.BaseVideo, pair.NewVideo, baseCut, newCut, sbsFilename)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", out)

	if sbsGIF {
		gifName := sbsFilename[:len(sbsFilename)-len(filepath.Ext(sbsFilename))] + ".gif"
		gif, err := b.ConvertToGIF(cmd.Context(), out, filepath.Join(sbsOutput, gifName), sbsSlowMotion)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", gif)
	}
	return nil
}
