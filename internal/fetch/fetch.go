// Package fetch acquires media from the supported source via yt-dlp:
// URL validation, metadata lookup, download with bounded retry and
// recovery from the tool's extension drift.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/logx"
)

var (
	ErrInvalidSource     = errors.New("invalid source url")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrDownloadFailed    = errors.New("download failed")
	ErrDownloadNotFound  = errors.New("downloaded file not found")
)

// Metadata is the descriptive information fetched once per request.
type Metadata struct {
	Title           string          `json:"title"`
	DurationSeconds float64         `json:"duration"`
	Raw             json.RawMessage `json:"-"`
}

// CommandRunner executes an external tool and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// prefix length used by the last-resort filename match.
const prefixMatchLen = 10

// Engine wraps yt-dlp. The zero retry values fall back to 3 attempts
// spaced attempt x 2s apart.
type Engine struct {
	Binary    string
	Attempts  int
	RetryBase time.Duration

	runner CommandRunner
	sleep  func(time.Duration)
}

func NewEngine(binary string, attempts int, retryBase time.Duration) *Engine {
	if binary == "" {
		binary = "yt-dlp"
	}
	if attempts <= 0 {
		attempts = 3
	}
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}
	return &Engine{
		Binary:    binary,
		Attempts:  attempts,
		RetryBase: retryBase,
		runner:    runCommand,
		sleep:     time.Sleep,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *Engine) WithCommandRunner(r CommandRunner) *Engine {
	e.runner = r
	return e
}

// WithSleep sets a custom sleep function (for testing).
func (e *Engine) WithSleep(fn func(time.Duration)) *Engine {
	e.sleep = fn
	return e
}

// Validate checks that url points at a supported source. No process is
// spawned for rejected URLs.
func (e *Engine) Validate(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidSource)
	}
	if !strings.Contains(url, "youtube.com/") && !strings.Contains(url, "youtu.be/") {
		return fmt.Errorf("%w: %s", ErrInvalidSource, url)
	}
	return nil
}

// FetchMetadata asks yt-dlp for the single-video JSON description.
func (e *Engine) FetchMetadata(ctx context.Context, url string) (Metadata, error) {
	if err := e.Validate(url); err != nil {
		return Metadata{}, err
	}
	out, err := e.runner(ctx, e.Binary,
		"--dump-single-json",
		"--no-warnings",
		"--no-check-certificates",
		"--prefer-free-formats",
		url,
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var meta Metadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: bad metadata: %v", ErrSourceUnavailable, err)
	}
	if meta.Title == "" {
		return Metadata{}, fmt.Errorf("%w: empty metadata", ErrSourceUnavailable)
	}
	meta.Raw = append(json.RawMessage(nil), out...)
	return meta, nil
}

// Download fetches url to destPath. yt-dlp may pick a container other
// than the one destPath names, so after a clean exit the engine resolves
// the actual file in stages: exact path, same base with any extension,
// then a prefix match, renaming whatever it finds onto destPath.
func (e *Engine) Download(ctx context.Context, url, destPath string) error {
	if err := e.Validate(url); err != nil {
		return err
	}
	_, err := e.runner(ctx, e.Binary,
		"-o", destPath,
		"-f", "best[ext=mp4]/best",
		"--no-warnings",
		"--no-check-certificates",
		"--prefer-free-formats",
		url,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return e.resolveOutput(destPath)
}

func (e *Engine) resolveOutput(destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	dir := filepath.Dir(destPath)
	base := strings.TrimSuffix(filepath.Base(destPath), filepath.Ext(destPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadNotFound, err)
	}

	// Stage 2: same base name, different extension.
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) == base {
			return renameTo(filepath.Join(dir, name), destPath)
		}
	}

	// Stage 3: prefix match on the first characters of the base name.
	prefix := base
	if len(prefix) > prefixMatchLen {
		prefix = prefix[:prefixMatchLen]
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			return renameTo(filepath.Join(dir, entry.Name()), destPath)
		}
	}

	return fmt.Errorf("%w: %s", ErrDownloadNotFound, destPath)
}

func renameTo(src, dest string) error {
	if src == dest {
		return nil
	}
	log.Info().Str("from", src).Str("to", dest).Msg("recovering drifted download name")
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrDownloadNotFound, err)
	}
	return nil
}

// DownloadWithRetry wraps Download with the bounded retry schedule:
// delay before attempt n+1 is n x RetryBase. The last error wins.
func (e *Engine) DownloadWithRetry(ctx context.Context, url, destPath string) error {
	var lastErr error
	for attempt := 1; attempt <= e.Attempts; attempt++ {
		lastErr = e.Download(ctx, url, destPath)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrInvalidSource) {
			return lastErr
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Str("url", url).Msg("download attempt failed")
		if attempt < e.Attempts {
			e.sleep(time.Duration(attempt) * e.RetryBase)
		}
	}
	return lastErr
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
