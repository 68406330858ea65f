// Package store manages the working directory where downloaded and
// derived media files live: existence and writability checks, same-day
// reuse lookups and deferred deletion with a grace period.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDirNotAccessible means the output directory exists but cannot be
// written to.
var ErrDirNotAccessible = errors.New("output directory not accessible")

// Store owns one output directory.
type Store struct {
	Dir           string
	DeleteGrace   time.Duration
	ReuseMinBytes int64

	now   func() time.Time
	sleep func(time.Duration)
}

func New(dir string, grace time.Duration, reuseMinBytes int64) *Store {
	return &Store{
		Dir:           dir,
		DeleteGrace:   grace,
		ReuseMinBytes: reuseMinBytes,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

// EnsureDir creates the output directory if missing.
func (s *Store) EnsureDir() error {
	return os.MkdirAll(s.Dir, 0o755)
}

// VerifyWritable round-trips a probe file through the directory.
func (s *Store) VerifyWritable() error {
	probe := filepath.Join(s.Dir, ".write-test")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrDirNotAccessible, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("%w: %v", ErrDirNotAccessible, err)
	}
	return nil
}

// ShouldReuse reports whether path holds a file written earlier today
// (local time). Same-day copies are served instead of re-downloading.
func (s *Store) ShouldReuse(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return sameDay(info.ModTime(), s.now())
}

// ShouldReuseVideo is the relaxed reuse rule for video flows: a same-day
// file, or any file at least ReuseMinBytes long. The size floor tolerates
// slow writers that touched the file on a previous day.
func (s *Store) ShouldReuseVideo(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if sameDay(info.ModTime(), s.now()) {
		return true
	}
	return info.Size() >= s.ReuseMinBytes
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// ScheduleDelete unlinks path after the grace period. The grace leaves
// time for an in-flight delivery read to finish. Runs detached; errors
// are logged, never returned.
func (s *Store) ScheduleDelete(path string) {
	go func() {
		s.sleep(s.DeleteGrace)
		if _, err := os.Stat(path); err != nil {
			return
		}
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("deferred delete failed")
			return
		}
		log.Debug().Str("path", path).Msg("deleted file")
	}()
}

// Remove unlinks path immediately, logging failures. Used on error paths
// where cleanup must not mask the original error.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("cleanup failed")
	}
}
