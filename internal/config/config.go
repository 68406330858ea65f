package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full environment-backed configuration surface shared by
// the bot, the HTTP front door and the local test harness.
type Config struct {
	BotToken  string
	OutputDir string
	HTTPAddr  string
	APISecret string

	AccessPhrase string

	WhisperAPIURL   string
	WhisperLanguage string
	LLMAPIURL       string
	LLMAPIKey       string
	LLMModel        string

	UploadLimitBytes  int64 // Telegram delivery ceiling
	WhisperLimitBytes int64 // transcription backend input ceiling
	ChunkSeconds      int
	SplitPartMB       int
	AudioKbps         int
	AudioKbpsDegraded int

	RetryAttempts int
	RetryBase     time.Duration
	DeleteGrace   time.Duration
	ReuseMinBytes int64

	YtdlpBin   string
	FfmpegBin  string
	FfprobeBin string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load reads .env (if present) and assembles the config with defaults.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		BotToken:  os.Getenv("BOT_TOKEN"),
		OutputDir: getenv("OUTPUT_DIR", "downloads"),
		HTTPAddr:  getenv("HTTP_ADDR", ":3000"),
		APISecret: os.Getenv("API_SECRET"),

		AccessPhrase: os.Getenv("ACCESS_PHRASE"),

		WhisperAPIURL:   getenv("WHISPER_API_URL", "http://localhost:8000"),
		WhisperLanguage: getenv("WHISPER_LANGUAGE", "pt"),
		LLMAPIURL:       os.Getenv("LLM_API_URL"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMModel:        getenv("LLM_MODEL", "deepseek-chat"),

		UploadLimitBytes:  int64(mustInt("TG_UPLOAD_LIMIT_MB", 50)) * 1024 * 1024,
		WhisperLimitBytes: int64(mustInt("WHISPER_LIMIT_MB", 24)) * 1024 * 1024,
		ChunkSeconds:      mustInt("CHUNK_SECONDS", 240),
		SplitPartMB:       mustInt("SPLIT_PART_MB", 45),
		AudioKbps:         mustInt("AUDIO_KBPS", 320),
		AudioKbpsDegraded: mustInt("AUDIO_KBPS_DEGRADED", 96),

		RetryAttempts: mustInt("RETRY_ATTEMPTS", 3),
		RetryBase:     time.Duration(mustInt("RETRY_BASE_SECONDS", 2)) * time.Second,
		DeleteGrace:   time.Duration(mustInt("DELETE_GRACE_SECONDS", 3)) * time.Second,
		ReuseMinBytes: int64(mustInt("REUSE_MIN_KB", 100)) * 1024,

		YtdlpBin:   getenv("YTDLP_BIN", "yt-dlp"),
		FfmpegBin:  getenv("FFMPEG_BIN", "ffmpeg"),
		FfprobeBin: getenv("FFPROBE_BIN", "ffprobe"),
	}
}
