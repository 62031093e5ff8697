package sidebyside

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func solidFrame(value byte) []byte {
	frame := make([]byte, frameSize*frameSize)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

func TestCountLeadFrames(t *testing.T) {
	// Three warmup frames dominated by a bright value, then content.
	frames := [][]byte{
		solidFrame(220),
		solidFrame(220),
		solidFrame(220),
		solidFrame(40),
		solidFrame(60),
	}
	if got := countLeadFrames(frames); got != 2 {
		t.Errorf("lead frames = %d, want 2", got)
	}
}

func TestCountLeadFramesNoWarmup(t *testing.T) {
	frames := [][]byte{solidFrame(40), solidFrame(60)}
	if got := countLeadFrames(frames); got != 0 {
		t.Errorf("lead frames = %d, want 0", got)
	}
}

func TestPixelHistogram(t *testing.T) {
	hist := pixelHistogram([][]byte{solidFrame(10), solidFrame(10)})
	if hist[10] != 2*frameSize*frameSize {
		t.Errorf("hist[10] = %v", hist[10])
	}
	var total float64
	for _, v := range hist {
		total += v
	}
	if total != 2*frameSize*frameSize {
		t.Errorf("total = %v", total)
	}
}

func rampHistogram(scale float64) []float64 {
	hist := make([]float64, 256)
	for i := range hist {
		hist[i] = float64(i) * scale
	}
	return hist
}

func reverseRampHistogram() []float64 {
	hist := make([]float64, 256)
	for i := range hist {
		hist[i] = float64(255 - i)
	}
	return hist
}

func TestSelectPairPicksLeastSimilar(t *testing.T) {
	// Base video 0 correlates perfectly with new video 0; new video 1
	// is its mirror image.
	base := [][]float64{rampHistogram(1)}
	nw := [][]float64{rampHistogram(2)}

	i, j, sim, err := selectPair(base, nw, false)
	if err != nil {
		t.Fatalf("selectPair: %v", err)
	}
	if i != 0 || j != 0 {
		t.Errorf("pair = %d/%d", i, j)
	}
	if sim < 0.999 {
		t.Errorf("similarity = %v, want 1 for identical rank order", sim)
	}

	base = [][]float64{rampHistogram(1), rampHistogram(1)}
	nw = [][]float64{rampHistogram(3), reverseRampHistogram()}
	i, j, _, err = selectPair(base, nw, false)
	if err != nil {
		t.Fatalf("selectPair: %v", err)
	}
	if j != 1 {
		t.Errorf("least similar new video = %d, want the mirrored one", j)
	}

	_, j, _, err = selectPair(base, nw, true)
	if err != nil {
		t.Fatalf("selectPair: %v", err)
	}
	if j != 0 {
		t.Errorf("most similar new video = %d, want the matching ramp", j)
	}
}

func TestSaveMetadata(t *testing.T) {
	dir := t.TempDir()
	pair := &Pair{BaseVideo: "a.mp4", NewVideo: "b.mp4", Similarity: 0.5}
	if err := SaveMetadata(dir, pair); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "similarity.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"similarity": 0.5`)) {
		t.Errorf("metadata = %s", raw)
	}
}

// makeClip renders a short solid-colour test clip.
func makeClip(t *testing.T, b *Builder, path, color string) {
	t.Helper()
	err := b.run(context.Background(),
		"-f", "lavfi", "-i", "color=c="+color+":size=128x128:rate=30:duration=0.5",
		"-pix_fmt", "yuv420p", path)
	if err != nil {
		t.Fatalf("render test clip: %v", err)
	}
}

func TestBuildSideBySide(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	b, err := NewBuilder(dir)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	base := filepath.Join(dir, "base.mp4")
	nw := filepath.Join(dir, "new.mp4")
	makeClip(t, b, base, "white")
	makeClip(t, b, nw, "black")

	out, err := b.Build(context.Background(), base, nw, 0, 0, "side-by-side.mp4")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	st, err := os.Stat(out)
	if err != nil || st.Size() == 0 {
		t.Fatalf("output missing or empty: %v", err)
	}

	gif, err := b.ConvertToGIF(context.Background(), out, filepath.Join(dir, "side-by-side.gif"), false)
	if err != nil {
		t.Fatalf("ConvertToGIF: %v", err)
	}
	if st, err := os.Stat(gif); err != nil || st.Size() == 0 {
		t.Fatalf("gif missing or empty: %v", err)
	}

	pair, err := b.PickPair(context.Background(), []string{base}, []string{nw}, false)
	if err != nil {
		t.Fatalf("PickPair: %v", err)
	}
	if pair.BaseVideo != base || pair.NewVideo != nw {
		t.Errorf("pair = %+v", pair)
	}
}

func TestNewBuilderMissingFFmpeg(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := NewBuilder(t.TempDir()); err == nil {
		t.Error("expected error without ffmpeg on PATH")
	}
}
