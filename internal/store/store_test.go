package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestVerifyWritable(t *testing.T) {
	s := New(t.TempDir(), time.Second, 100*1024)
	assert.NoError(t, s.VerifyWritable())

	s = New(filepath.Join(t.TempDir(), "missing"), time.Second, 100*1024)
	assert.ErrorIs(t, s.VerifyWritable(), ErrDirNotAccessible)
}

func TestShouldReuseSameDay(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second, 100*1024)
	path := filepath.Join(dir, "talk.mp4")
	writeFile(t, path, 10)

	assert.True(t, s.ShouldReuse(path), "file written today must be reused")

	yesterday := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(path, yesterday, yesterday))
	assert.False(t, s.ShouldReuse(path), "yesterday's file must not be reused")
}

func TestShouldReuseMissing(t *testing.T) {
	s := New(t.TempDir(), time.Second, 100*1024)
	assert.False(t, s.ShouldReuse(filepath.Join(s.Dir, "nope.mp4")))
}

func TestShouldReuseVideoSizeFloor(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second, 100*1024)
	yesterday := time.Now().Add(-24 * time.Hour)

	small := filepath.Join(dir, "small.mp4")
	writeFile(t, small, 10)
	require.NoError(t, os.Chtimes(small, yesterday, yesterday))
	assert.False(t, s.ShouldReuseVideo(small))

	big := filepath.Join(dir, "big.mp4")
	writeFile(t, big, 200*1024)
	require.NoError(t, os.Chtimes(big, yesterday, yesterday))
	assert.True(t, s.ShouldReuseVideo(big), "large file is valid regardless of age")
}

func TestScheduleDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 10*time.Millisecond, 100*1024)
	path := filepath.Join(dir, "gone.mp4")
	writeFile(t, path, 10)

	s.ScheduleDelete(path)

	// still present inside the grace window
	_, err := os.Stat(path)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleDeleteMissingFile(t *testing.T) {
	s := New(t.TempDir(), time.Millisecond, 100*1024)
	// nothing to delete; must not panic or log fatally
	s.ScheduleDelete(filepath.Join(s.Dir, "never-existed.mp4"))
	time.Sleep(20 * time.Millisecond)
}
