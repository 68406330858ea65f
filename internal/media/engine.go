// Package media derives artifacts from a downloaded file with ffmpeg:
// audio extraction, resolution-tiered re-encodes and size-bounded
// splitting into independently playable parts.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/you/ytmediabot/internal/logx"
)

var ErrConversionFailed = errors.New("conversion failed")

// CommandRunner executes an external tool and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Engine shells out to ffmpeg/ffprobe.
type Engine struct {
	FfmpegBin  string
	FfprobeBin string

	DefaultAudioKbps int

	runner CommandRunner
}

func NewEngine(ffmpegBin, ffprobeBin string, defaultAudioKbps int) *Engine {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if defaultAudioKbps <= 0 {
		defaultAudioKbps = 320
	}
	return &Engine{
		FfmpegBin:        ffmpegBin,
		FfprobeBin:       ffprobeBin,
		DefaultAudioKbps: defaultAudioKbps,
		runner:           runCommand,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *Engine) WithCommandRunner(r CommandRunner) *Engine {
	e.runner = r
	return e
}

// ToAudio extracts the audio track to an mp3 at destPath. kbps 0 selects
// the engine default (the non-degraded bitrate).
func (e *Engine) ToAudio(ctx context.Context, srcPath, destPath string, kbps int) (string, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return "", fmt.Errorf("%w: source missing: %v", ErrConversionFailed, err)
	}
	if kbps <= 0 {
		kbps = e.DefaultAudioKbps
	}
	args := []string{
		"-i", srcPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", fmt.Sprintf("%dk", kbps),
		"-ar", "44100",
		"-y", destPath,
	}
	if _, err := e.runner(ctx, e.FfmpegBin, args...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return requireOutput(destPath)
}

// ToVideo re-encodes srcPath under the tier's resolution ceiling.
func (e *Engine) ToVideo(ctx context.Context, srcPath, destPath string, tier Tier) (string, error) {
	p, ok := tiers[tier]
	if !ok {
		return "", fmt.Errorf("%w: unknown tier %q", ErrConversionFailed, tier)
	}
	if _, err := os.Stat(srcPath); err != nil {
		return "", fmt.Errorf("%w: source missing: %v", ErrConversionFailed, err)
	}
	args := []string{
		"-i", srcPath,
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", p.Height),
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", "26",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y", destPath,
	}
	if _, err := e.runner(ctx, e.FfmpegBin, args...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return requireOutput(destPath)
}

// SplitBySize cuts srcPath into ceil(size/maxPart) contiguous time
// windows, one stream-copied file per window. A source already under the
// cap is returned as-is. The windows partition the timeline; the final
// part absorbs rounding so the cuts reach exactly the end.
func (e *Engine) SplitBySize(ctx context.Context, srcPath, outDir string, maxPartMB int) ([]string, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: source missing: %v", ErrConversionFailed, err)
	}
	maxPartBytes := int64(maxPartMB) * 1024 * 1024
	if info.Size() <= maxPartBytes {
		return []string{srcPath}, nil
	}

	probe, err := e.Probe(ctx, srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: unknown duration", ErrConversionFailed)
	}

	numParts := int(math.Ceil(float64(info.Size()) / float64(maxPartBytes)))
	window := duration / float64(numParts)

	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	paths := make([]string, 0, numParts)
	for i := 0; i < numParts; i++ {
		start := float64(i) * window
		length := window
		if i == numParts-1 {
			length = duration - start
		}
		partPath := filepath.Join(outDir, fmt.Sprintf("%s.part%d%s", stem, i+1, ext))
		args := []string{
			"-ss", formatSeconds(start),
			"-i", srcPath,
			"-t", formatSeconds(length),
			"-c", "copy",
			"-y", partPath,
		}
		if _, err := e.runner(ctx, e.FfmpegBin, args...); err != nil {
			return nil, fmt.Errorf("%w: part %d: %v", ErrConversionFailed, i+1, err)
		}
		if _, err := requireOutput(partPath); err != nil {
			return nil, err
		}
		paths = append(paths, partPath)
	}
	return paths, nil
}

// ExtractChunk cuts one bounded-duration mp3 chunk for transcription.
func (e *Engine) ExtractChunk(ctx context.Context, srcPath, destPath string, startSec, lengthSec float64) (string, error) {
	args := []string{
		"-ss", formatSeconds(startSec),
		"-i", srcPath,
		"-t", formatSeconds(lengthSec),
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", "96k",
		"-ar", "44100",
		"-y", destPath,
	}
	if _, err := e.runner(ctx, e.FfmpegBin, args...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return requireOutput(destPath)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

func requireOutput(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: output missing: %s", ErrConversionFailed, path)
	}
	return path, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logx.NewLineWriter(map[string]string{"tool": filepath.Base(name)}, zerolog.DebugLevel).Pipe(stderr)
	if err := cmd.Wait(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
