package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/ytmediabot/internal/ai"
	"github.com/you/ytmediabot/internal/media"
)

type fakeBackend struct {
	calls  []string
	answer func(path string) (string, error)
}

func (f *fakeBackend) Transcribe(ctx context.Context, filePath string) (string, error) {
	f.calls = append(f.calls, filePath)
	return f.answer(filePath)
}

type fakeChunker struct {
	duration float64
	extracts []string
}

func (f *fakeChunker) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	return media.ProbeResult{Format: media.Format{Duration: fmt.Sprintf("%f", f.duration)}}, nil
}

func (f *fakeChunker) ExtractChunk(ctx context.Context, srcPath, destPath string, startSec, lengthSec float64) (string, error) {
	f.extracts = append(f.extracts, destPath)
	return destPath, os.WriteFile(destPath, []byte("chunk"), 0o644)
}

func TestRunDirectWhenSmall(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	backend := &fakeBackend{answer: func(string) (string, error) { return "hello world", nil }}
	chunks := &fakeChunker{duration: 600}
	p := NewPipeline(backend, chunks, 24*1024*1024, 240)

	res, err := p.Run(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.True(t, res.Inline())
	assert.Equal(t, []string{audio}, backend.calls, "small file goes straight to the backend")
	assert.Empty(t, chunks.extracts, "no chunking below the ceiling")
}

func TestRunChunkedWhenLarge(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	backend := &fakeBackend{answer: func(path string) (string, error) {
		return "text of " + filepath.Base(path), nil
	}}
	chunks := &fakeChunker{duration: 700} // 3 x 240s windows
	p := NewPipeline(backend, chunks, 512, 240)

	res, err := p.Run(context.Background(), audio)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Part 1:")
	assert.Contains(t, res.Text, "Part 2:")
	assert.Contains(t, res.Text, "Part 3:")
	require.Len(t, chunks.extracts, 3)
	for _, chunk := range chunks.extracts {
		_, err := os.Stat(chunk)
		assert.True(t, os.IsNotExist(err), "chunk %s must be deleted after use", chunk)
	}
}

func TestChunkFailureSkipped(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	backend := &fakeBackend{answer: func(path string) (string, error) {
		if strings.Contains(path, "chunk2") {
			return "", errors.New("backend overloaded")
		}
		return "ok " + filepath.Base(path), nil
	}}
	chunks := &fakeChunker{duration: 700}
	p := NewPipeline(backend, chunks, 512, 240)

	text, err := p.TranscribeChunked(context.Background(), audio, 240)
	require.NoError(t, err, "one bad chunk must not fail the job")
	assert.Contains(t, text, "Part 1:")
	assert.NotContains(t, text, "Part 2:")
	assert.Contains(t, text, "Part 3:")

	// the failed chunk's file is deleted too
	_, statErr := os.Stat(filepath.Join(dir, "talk.chunk2.mp3"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAllChunksFailed(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	backend := &fakeBackend{answer: func(string) (string, error) { return "", errors.New("down") }}
	p := NewPipeline(backend, &fakeChunker{duration: 500}, 512, 240)

	_, err := p.TranscribeChunked(context.Background(), audio, 240)
	assert.ErrorIs(t, err, ai.ErrTranscriptionFailed)
}

func TestLongOutputBecomesDocument(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	long := strings.Repeat("palavra ", 1000) // ~8000 chars
	backend := &fakeBackend{answer: func(string) (string, error) { return long, nil }}
	p := NewPipeline(backend, &fakeChunker{duration: 60}, 24*1024*1024, 240)

	res, err := p.Run(context.Background(), audio)
	require.NoError(t, err)
	assert.False(t, res.Inline())
	assert.Equal(t, filepath.Join(dir, "talk.transcript.txt"), res.DocPath)

	data, err := os.ReadFile(res.DocPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--- Page 1 ---")
	assert.Contains(t, string(data), "--- Page 2 ---")
}

func TestWriteDocumentPagination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, WriteDocument(strings.Repeat("a", pageSize+1), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "--- Page"))
}
