package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers ffprobe with canned JSON and makes ffmpeg "write"
// its output file so the existence checks pass.
func fakeRunner(t *testing.T, probeJSON string, calls *[][]string) CommandRunner {
	t.Helper()
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, append([]string{name}, args...))
		}
		if name == "ffprobe" {
			return []byte(probeJSON), nil
		}
		out := args[len(args)-1]
		return nil, os.WriteFile(out, []byte("x"), 0o644)
	}
}

func TestToAudioDefaultBitrate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("v"), 0o644))

	var calls [][]string
	e := NewEngine("", "", 320).WithCommandRunner(fakeRunner(t, "", &calls))

	dest := filepath.Join(dir, "talk.mp3")
	got, err := e.ToAudio(context.Background(), src, dest, 0)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "320k")
	assert.Contains(t, calls[0], "libmp3lame")
}

func TestToAudioExplicitBitrate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("v"), 0o644))

	var calls [][]string
	e := NewEngine("", "", 320).WithCommandRunner(fakeRunner(t, "", &calls))

	_, err := e.ToAudio(context.Background(), src, filepath.Join(dir, "talk.mp3"), 96)
	require.NoError(t, err)
	assert.Contains(t, calls[0], "96k")
}

func TestToVideoUnknownTier(t *testing.T) {
	e := NewEngine("", "", 0)
	_, err := e.ToVideo(context.Background(), "in.mp4", "out.mp4", Tier("ultra"))
	assert.ErrorIs(t, err, ErrConversionFailed)
}

func TestToVideoTierCeiling(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("v"), 0o644))

	var calls [][]string
	e := NewEngine("", "", 0).WithCommandRunner(fakeRunner(t, "", &calls))

	_, err := e.ToVideo(context.Background(), src, filepath.Join(dir, "talk_med.mp4"), TierMedium)
	require.NoError(t, err)
	assert.Contains(t, calls[0], "scale=-2:'min(720,ih)'")
	assert.Contains(t, calls[0], "faster")
}

func TestConversionFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("v"), 0o644))

	e := NewEngine("", "", 0).WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	_, err := e.ToAudio(context.Background(), src, filepath.Join(dir, "talk.mp3"), 0)
	assert.ErrorIs(t, err, ErrConversionFailed)
}

func TestSplitBySizeUnderCap(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.mp4")
	require.NoError(t, os.WriteFile(src, make([]byte, 1024), 0o644))

	e := NewEngine("", "", 0).WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("no tool call expected for a source under the cap")
		return nil, nil
	})

	parts, err := e.SplitBySize(context.Background(), src, dir, 45)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, parts)
}

func TestSplitBySizeWindows(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.mp4")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(130*1024*1024))
	require.NoError(t, f.Close())

	probeJSON := `{"format":{"duration":"300.000000","size":"136314880"}}`
	var calls [][]string
	e := NewEngine("", "", 0).WithCommandRunner(fakeRunner(t, probeJSON, &calls))

	parts, err := e.SplitBySize(context.Background(), src, dir, 45)
	require.NoError(t, err)
	require.Len(t, parts, 3, "130 MB / 45 MB => 3 parts")
	assert.Equal(t, filepath.Join(dir, "long.part1.mp4"), parts[0])
	assert.Equal(t, filepath.Join(dir, "long.part3.mp4"), parts[2])

	// first call is ffprobe, then one ffmpeg cut per part
	require.Len(t, calls, 4)
	var end float64
	for i, cut := range calls[1:] {
		start := argAfter(t, cut, "-ss")
		length := argAfter(t, cut, "-t")
		assert.InDelta(t, end, start, 0.01, "part %d must start where the previous ended", i+1)
		end = start + length
	}
	assert.InDelta(t, 300.0, end, 0.01, "windows must span the full duration")
}

func argAfter(t *testing.T, args []string, flag string) float64 {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			v, err := strconv.ParseFloat(args[i+1], 64)
			require.NoError(t, err)
			return v
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return 0
}

func TestEstimateMonotonic(t *testing.T) {
	var src int64 = 200 * 1024 * 1024
	low := Estimate(TierLow, src)
	med := Estimate(TierMedium, src)
	high := Estimate(TierHigh, src)
	assert.Less(t, low, med)
	assert.Less(t, med, high)
}

func TestTiersUnder(t *testing.T) {
	var src int64 = 200 * 1024 * 1024 // est: 10 / 30 / 50 MB
	limit := int64(35 * 1024 * 1024)
	assert.Equal(t, []Tier{TierLow, TierMedium}, TiersUnder(limit, src))

	assert.Empty(t, TiersUnder(int64(1024), src))
	assert.Equal(t, []Tier{TierLow, TierMedium, TierHigh}, TiersUnder(src, src))
}

func TestProbeParse(t *testing.T) {
	probeJSON := `{"streams":[{"codec_type":"video","width":1920,"height":1080}],"format":{"duration":"12.5","size":"1000"}}`
	e := NewEngine("", "", 0).WithCommandRunner(fakeRunner(t, probeJSON, nil))

	res, err := e.Probe(context.Background(), "whatever.mp4")
	require.NoError(t, err)
	assert.Equal(t, 12.5, res.DurationSeconds())
	assert.Equal(t, int64(1000), res.SizeBytes())
	w, h := res.VideoDimensions()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestExtractChunkArgs(t *testing.T) {
	dir := t.TempDir()
	var calls [][]string
	e := NewEngine("", "", 0).WithCommandRunner(fakeRunner(t, "", &calls))

	dest := filepath.Join(dir, "a.chunk1.mp3")
	_, err := e.ExtractChunk(context.Background(), filepath.Join(dir, "a.mp3"), dest, 240, 240)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, fmt.Sprintf("%.3f", 240.0), argAfterString(calls[0], "-ss"))
	assert.Equal(t, fmt.Sprintf("%.3f", 240.0), argAfterString(calls[0], "-t"))
}

func argAfterString(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
