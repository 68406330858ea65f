package main

import (
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/you/ytmediabot/internal/ai"
	"github.com/you/ytmediabot/internal/bot"
	"github.com/you/ytmediabot/internal/config"
	"github.com/you/ytmediabot/internal/fetch"
	"github.com/you/ytmediabot/internal/flow"
	"github.com/you/ytmediabot/internal/httpapi"
	"github.com/you/ytmediabot/internal/logx"
	"github.com/you/ytmediabot/internal/media"
	"github.com/you/ytmediabot/internal/store"
	"github.com/you/ytmediabot/internal/transcribe"
)

func main() {
	c := config.Load()

	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	if c.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	api, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	api.Debug = false
	log.Info().Str("username", api.Self.UserName).Msg("bot authorized")

	st := store.New(c.OutputDir, c.DeleteGrace, c.ReuseMinBytes)
	if err := st.EnsureDir(); err != nil {
		log.Fatal().Err(err).Str("dir", c.OutputDir).Msg("output dir not usable")
	}

	fetcher := fetch.NewEngine(c.YtdlpBin, c.RetryAttempts, c.RetryBase)
	engine := media.NewEngine(c.FfmpegBin, c.FfprobeBin, c.AudioKbps)

	whisper := ai.NewWhisperClient(c.WhisperAPIURL, c.WhisperLanguage)
	pipeline := transcribe.NewPipeline(whisper, engine, c.WhisperLimitBytes, c.ChunkSeconds)

	var summarizer flow.SummaryBackend
	if c.LLMAPIURL != "" && c.LLMAPIKey != "" {
		summarizer = ai.NewSummarizer(c.LLMAPIURL, c.LLMAPIKey, ai.WithModel(c.LLMModel))
	} else {
		log.Warn().Msg("LLM not configured; summary action disabled")
	}

	machine := flow.NewMachine(nil, fetcher, engine, pipeline, summarizer, st, flow.Options{
		OutputDir:         c.OutputDir,
		AccessPhrase:      c.AccessPhrase,
		UploadLimitBytes:  c.UploadLimitBytes,
		SplitPartMB:       c.SplitPartMB,
		AudioKbpsDegraded: c.AudioKbpsDegraded,
	})
	svc := bot.New(api, machine, fetcher, st)
	machine.SetDeliverer(svc)

	// one-shot download front door
	go func() {
		srv := httpapi.New(fetcher, st, c.APISecret)
		log.Info().Str("addr", c.HTTPAddr).Msg("http front door listening")
		if err := http.ListenAndServe(c.HTTPAddr, srv.Router()); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	svc.Run()
}
