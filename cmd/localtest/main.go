package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/you/ytmediabot/internal/config"
	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/logx"
	"github.com/you/ytmediabot/internal/media"
	"github.com/you/ytmediabot/internal/store"
)

// Exercises the acquisition and transcoding pipeline without Telegram:
// downloads a URL into the output dir and derives an mp3 from it.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/localtest <url>")
		return
	}
	url := os.Args[1]

	c := config.Load()
	logx.Setup(logx.FromEnv("localtest"))

	st := store.New(c.OutputDir, c.DeleteGrace, c.ReuseMinBytes)
	if err := st.EnsureDir(); err != nil {
		panic(err)
	}
	if err := st.VerifyWritable(); err != nil {
		panic(err)
	}

	fetcher := fetch.NewEngine(c.YtdlpBin, c.RetryAttempts, c.RetryBase)
	engine := media.NewEngine(c.FfmpegBin, c.FfprobeBin, c.AudioKbps)

	ctx := context.Background()
	meta, err := fetcher.FetchMetadata(ctx, url)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Title: %s (%.0fs)\n", meta.Title, meta.DurationSeconds)

	dest := filepath.Join(c.OutputDir, fetch.FileName("", "", meta.Title))
	if st.ShouldReuseVideo(dest) {
		fmt.Println("Reusing:", dest)
	} else if err := fetcher.DownloadWithRetry(ctx, url, dest); err != nil {
		panic(err)
	}
	fmt.Println("Downloaded:", dest)

	audio := dest[:len(dest)-len(filepath.Ext(dest))] + ".mp3"
	if _, err := engine.ToAudio(ctx, dest, audio, 0); err != nil {
		panic(err)
	}
	fmt.Println("Audio:", audio)
}
