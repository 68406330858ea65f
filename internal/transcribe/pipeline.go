// Package transcribe turns audio into text, chunking long sources into
// bounded-duration segments that are transcribed sequentially and
// reassembled in order.
package transcribe

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/ai"
	"github.com/you/ytmediabot/internal/media"
)

// Transcriber is the speech-to-text backend contract.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// chunker is the slice of the media engine the pipeline needs.
type chunker interface {
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	ExtractChunk(ctx context.Context, srcPath, destPath string, startSec, lengthSec float64) (string, error)
}

// Result is a finished transcription: inline text when it fits the
// message limit, otherwise a paginated document on disk.
type Result struct {
	Text    string
	DocPath string
}

// Inline reports whether the result is delivered as a plain message.
func (r Result) Inline() bool {
	return r.DocPath == ""
}

// Pipeline chunks, transcribes and reassembles audio.
type Pipeline struct {
	Backend      Transcriber
	Media        chunker
	LimitBytes   int64 // backend input ceiling
	ChunkSeconds int
	MessageLimit int // inline delivery ceiling, characters
}

func NewPipeline(backend Transcriber, m chunker, limitBytes int64, chunkSeconds int) *Pipeline {
	if limitBytes <= 0 {
		limitBytes = 24 * 1024 * 1024
	}
	if chunkSeconds <= 0 {
		chunkSeconds = 240
	}
	return &Pipeline{
		Backend:      backend,
		Media:        m,
		LimitBytes:   limitBytes,
		ChunkSeconds: chunkSeconds,
		MessageLimit: 4000,
	}
}

// Run transcribes audioPath. Files under the backend ceiling go straight
// to the backend; larger files are chunked. Output over the message
// limit is rendered to a paginated document next to the source.
func (p *Pipeline) Run(ctx context.Context, audioPath string) (Result, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ai.ErrTranscriptionFailed, err)
	}

	var text string
	if info.Size() <= p.LimitBytes {
		text, err = p.Backend.Transcribe(ctx, audioPath)
		if err != nil {
			return Result{}, err
		}
	} else {
		text, err = p.TranscribeChunked(ctx, audioPath, p.ChunkSeconds)
		if err != nil {
			return Result{}, err
		}
	}
	return p.render(text, audioPath)
}

// TranscribeChunked cuts audioPath into chunkSeconds windows and
// transcribes them one at a time, in order. A failing chunk is skipped
// (a partial transcript beats a dead job) and every chunk file is
// removed as soon as its call returns, keeping peak disk usage to one
// chunk beyond the source.
func (p *Pipeline) TranscribeChunked(ctx context.Context, audioPath string, chunkSeconds int) (string, error) {
	probe, err := p.Media.Probe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ai.ErrTranscriptionFailed, err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return "", fmt.Errorf("%w: unknown duration", ai.ErrTranscriptionFailed)
	}

	numChunks := int(math.Ceil(duration / float64(chunkSeconds)))
	dir := filepath.Dir(audioPath)
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var sb strings.Builder
	transcribed := 0
	for i := 0; i < numChunks; i++ {
		start := float64(i * chunkSeconds)
		length := float64(chunkSeconds)
		if start+length > duration {
			length = duration - start
		}
		chunkPath := filepath.Join(dir, fmt.Sprintf("%s.chunk%d.mp3", stem, i+1))

		if _, err := p.Media.ExtractChunk(ctx, audioPath, chunkPath, start, length); err != nil {
			log.Warn().Err(err).Int("part", i+1).Msg("chunk extraction failed, skipping")
			continue
		}
		text, err := p.Backend.Transcribe(ctx, chunkPath)
		if rmErr := os.Remove(chunkPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", chunkPath).Msg("chunk cleanup failed")
		}
		if err != nil {
			log.Warn().Err(err).Int("part", i+1).Msg("chunk transcription failed, skipping")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Part %d:\n%s", i+1, strings.TrimSpace(text))
		transcribed++
	}

	if transcribed == 0 {
		return "", fmt.Errorf("%w: all %d chunks failed", ai.ErrTranscriptionFailed, numChunks)
	}
	log.Info().Int("chunks", numChunks).Int("transcribed", transcribed).Msg("chunked transcription finished")
	return sb.String(), nil
}

func (p *Pipeline) render(text, audioPath string) (Result, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) <= p.MessageLimit {
		return Result{Text: text}, nil
	}
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	docPath := filepath.Join(filepath.Dir(audioPath), stem+".transcript.txt")
	if err := WriteDocument(text, docPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ai.ErrTranscriptionFailed, err)
	}
	return Result{Text: text, DocPath: docPath}, nil
}

// pageSize is the content budget per page in the rendered document.
const pageSize = 3500

// WriteDocument renders text as a paginated plain-text file.
func WriteDocument(text, path string) error {
	runes := []rune(text)
	var sb strings.Builder
	page := 1
	for len(runes) > 0 {
		n := pageSize
		if n > len(runes) {
			n = len(runes)
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n\n", page, strings.TrimSpace(string(runes[:n])))
		runes = runes[n:]
		page++
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
