// Package sidebyside turns pairs of pageload recordings into
// side-by-side comparison videos. All video work shells out to ffmpeg;
// pair selection decodes the candidates to grayscale frames and scores
// them by rank correlation of their pixel histograms.
package sidebyside

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrFFmpegMissing is returned when ffmpeg is not on PATH.
var ErrFFmpegMissing = errors.New("cannot find ffmpeg in PATH")

// overlayFilter resamples to 60fps and stamps a label plus a running
// timecode onto the video.
const overlayFilter = `fps=fps=60,drawtext=text=%s\\ :fontsize=(h/20):fontcolor=black:y=10:` +
	`timecode=00\:00\:00\:00:rate=60*1000/1001:fontcolor=white:x=(w-tw)/2:` +
	`y=10:box=1:boxcolor=0x00000000@1[vid]`

// stackFilter doubles the canvas and overlays the second input on the
// right half.
const stackFilter = `[0:v]pad=iw*2:ih[int];[int][1:v]overlay=W/2:0[vid]`

var encodeOptions = []string{"-map", "[vid]", "-c:v", "libx264", "-crf", "18", "-preset", "veryfast"}

// Builder drives the ffmpeg pipeline for one output directory.
type Builder struct {
	ffmpeg string
	outDir string
}

// NewBuilder verifies ffmpeg is available and prepares the output
// directory.
func NewBuilder(outDir string) (*Builder, error) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegMissing
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}
	return &Builder{ffmpeg: bin, outDir: outDir}, nil
}

func (b *Builder) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, b.ffmpeg, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	slog.Debug("running ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", strings.Join(args, " "), err, out.String())
	}
	return nil
}

// Build produces a labelled side-by-side MP4 from a base and a new
// recording, skipping the first baseInd/newInd frames of each (the
// warmup frames before first paint).
func (b *Builder) Build(ctx context.Context, baseVideo, newVideo string, baseInd, newInd int, filename string) (string, error) {
	work := func(name string) string { return filepath.Join(b.outDir, name) }
	intermediates := []string{
		work("before-cut.mp4"), work("after-cut.mp4"),
		work("before-rs.mp4"), work("after-rs.mp4"),
		work("before.mp4"), work("after.mp4"),
	}
	removeAll(intermediates)
	defer removeAll(intermediates)

	// Cut the lead frames.
	if err := b.run(ctx, "-i", baseVideo, "-vf", fmt.Sprintf(`select=gt(n\,%d)`, baseInd), work("before-cut.mp4")); err != nil {
		return "", err
	}
	if err := b.run(ctx, "-i", newVideo, "-vf", fmt.Sprintf(`select=gt(n\,%d)`, newInd), work("after-cut.mp4")); err != nil {
		return "", err
	}

	// Resample both sides to a common frame rate.
	if err := b.run(ctx, "-i", work("before-cut.mp4"), "-filter:v", "fps=fps=60", work("before-rs.mp4")); err != nil {
		return "", err
	}
	if err := b.run(ctx, "-i", work("after-cut.mp4"), "-filter:v", "fps=fps=60", work("after-rs.mp4")); err != nil {
		return "", err
	}

	// Label each side.
	beforeArgs := append([]string{"-i", work("before-rs.mp4"), "-filter_complex", fmt.Sprintf(overlayFilter, "BEFORE")}, encodeOptions...)
	if err := b.run(ctx, append(beforeArgs, work("before.mp4"))...); err != nil {
		return "", err
	}
	afterArgs := append([]string{"-i", work("after-rs.mp4"), "-filter_complex", fmt.Sprintf(overlayFilter, "AFTER")}, encodeOptions...)
	if err := b.run(ctx, append(afterArgs, work("after.mp4"))...); err != nil {
		return "", err
	}

	// Stack them.
	out := filepath.Join(b.outDir, filename)
	os.Remove(out)
	stackArgs := append([]string{"-i", work("before.mp4"), "-i", work("after.mp4"), "-filter_complex", stackFilter}, encodeOptions...)
	if err := b.run(ctx, append(stackArgs, out)...); err != nil {
		return "", err
	}
	return out, nil
}

// ConvertToGIF renders an MP4 as a looping GIF through a generated
// palette. Slow motion stretches subtle differences out and gets a
// -slow-motion suffix.
func (b *Builder) ConvertToGIF(ctx context.Context, mp4Path, gifPath string, slowMotion bool) (string, error) {
	fps := 30
	if slowMotion {
		fps = 80
		gifPath = strings.TrimSuffix(gifPath, ".gif") + "-slow-motion.gif"
	}
	palette := strings.TrimSuffix(gifPath, ".gif") + "-palette.png"
	defer os.Remove(palette)

	filter := fmt.Sprintf("fps=%d,scale=1024:-1:flags=lanczos", fps)
	if err := b.run(ctx, "-i", mp4Path, "-vf", filter+",palettegen", "-y", palette); err != nil {
		return "", err
	}
	err := b.run(ctx,
		"-i", mp4Path, "-i", palette,
		"-filter_complex", filter+"[x];[x][1:v]paletteuse",
		"-loop", "-1", "-y", gifPath)
	if err != nil {
		return "", err
	}
	return gifPath, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
