package sidebyside

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/perfscope/perfscope/internal/stats"
)

// frameSize is the square edge the decoder scales every frame down to.
// Histograms only need the pixel distribution, not resolution.
const frameSize = 64

// Pair is the chosen base/new recording pair with its score.
type Pair struct {
	BaseVideo string `json:"base_video"`
	NewVideo  string `json:"new_video"`

	// Similarity is the mean rank correlation across every candidate
	// pairing, not just the chosen one.
	Similarity float64 `json:"similarity"`

	// BaseFrameIndex and NewFrameIndex are the lead frames to cut
	// before comparison.
	BaseFrameIndex int `json:"base_frame_index"`
	NewFrameIndex  int `json:"new_frame_index"`
}

// videoProfile is the decoded fingerprint of one recording.
type videoProfile struct {
	histogram  []float64
	leadFrames int
}

// decodeFrames streams a video through ffmpeg as raw grayscale frames.
func (b *Builder) decodeFrames(ctx context.Context, path string) ([][]byte, error) {
	cmd := exec.CommandContext(ctx, b.ffmpeg,
		"-i", path,
		"-vf", fmt.Sprintf("scale=%d:%d", frameSize, frameSize),
		"-f", "rawvideo", "-pix_fmt", "gray", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe ffmpeg output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var frames [][]byte
	for {
		frame := make([]byte, frameSize*frameSize)
		if _, err := io.ReadFull(stdout, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			cmd.Wait()
			return nil, fmt.Errorf("read frames from %s: %w", path, err)
		}
		frames = append(frames, frame)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("decode %s: %w\n%s", path, err, stderr.String())
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames decoded from %s", path)
	}
	return frames, nil
}

// profile decodes a recording into its histogram and lead-frame count.
func (b *Builder) profile(ctx context.Context, path string) (videoProfile, error) {
	frames, err := b.decodeFrames(ctx, path)
	if err != nil {
		return videoProfile{}, err
	}
	return videoProfile{
		histogram:  pixelHistogram(frames),
		leadFrames: countLeadFrames(frames),
	}, nil
}

// pixelHistogram tallies pixel intensities over every frame.
func pixelHistogram(frames [][]byte) []float64 {
	hist := make([]float64, 256)
	for _, frame := range frames {
		for _, px := range frame {
			hist[px]++
		}
	}
	return hist
}

// countLeadFrames counts the solid warmup frames recorders prepend
// before first paint. Warmup frames share a dominant bright intensity;
// the count ends at the first frame whose dominant intensity moves.
func countLeadFrames(frames [][]byte) int {
	leadPeak := -1
	lead := 0
	for i, frame := range frames {
		peak := dominantIntensity(frame)
		if leadPeak < 0 {
			if peak <= 130 {
				// Not a warmup frame at all.
				return 0
			}
			leadPeak = peak
			continue
		}
		if peak != leadPeak {
			return lead
		}
		lead = i
	}
	return lead
}

func dominantIntensity(frame []byte) int {
	var counts [256]int
	for _, px := range frame {
		counts[px]++
	}
	best := 0
	for v, n := range counts {
		if n > counts[best] {
			best = v
		}
	}
	return best
}

// PickPair scores every base/new pairing and returns the least similar
// one (or the most similar when mostSimilar is set), plus the average
// similarity over all pairings.
func (b *Builder) PickPair(ctx context.Context, baseVideos, newVideos []string, mostSimilar bool) (*Pair, error) {
	n := len(baseVideos)
	if len(newVideos) < n {
		n = len(newVideos)
	}
	if n == 0 {
		return nil, fmt.Errorf("no candidate videos to pair")
	}

	baseProfiles := make([]videoProfile, n)
	newProfiles := make([]videoProfile, n)
	for i := 0; i < n; i++ {
		var err error
		if baseProfiles[i], err = b.profile(ctx, baseVideos[i]); err != nil {
			return nil, err
		}
		if newProfiles[i], err = b.profile(ctx, newVideos[i]); err != nil {
			return nil, err
		}
	}

	baseHists := make([][]float64, n)
	newHists := make([][]float64, n)
	for i := 0; i < n; i++ {
		baseHists[i] = baseProfiles[i].histogram
		newHists[i] = newProfiles[i].histogram
	}
	bi, ni, similarity, err := selectPair(baseHists, newHists, mostSimilar)
	if err != nil {
		return nil, err
	}

	return &Pair{
		BaseVideo:      baseVideos[bi],
		NewVideo:       newVideos[ni],
		Similarity:     similarity,
		BaseFrameIndex: baseProfiles[bi].leadFrames,
		NewFrameIndex:  newProfiles[ni].leadFrames,
	}, nil
}

// selectPair builds the cross-correlation matrix of the histograms and
// picks the extreme entry.
func selectPair(baseHists, newHists [][]float64, mostSimilar bool) (int, int, float64, error) {
	n := len(baseHists)
	bestI, bestJ := 0, 0
	var bestRho float64
	var sum float64
	count := 0
	first := true

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rho, err := stats.Spearman(baseHists[i], newHists[j])
			if err != nil {
				return 0, 0, 0, fmt.Errorf("score pair %d/%d: %w", i, j, err)
			}
			sum += rho
			count++
			better := rho < bestRho
			if mostSimilar {
				better = rho > bestRho
			}
			if first || better {
				first = false
				bestRho = rho
				bestI, bestJ = i, j
			}
		}
	}
	return bestI, bestJ, sum / float64(count), nil
}

// SaveMetadata writes the chosen pair beside the comparison output.
func SaveMetadata(dir string, pair *Pair) error {
	raw, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pair metadata: %w", err)
	}
	path := filepath.Join(dir, "similarity.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
