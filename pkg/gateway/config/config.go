package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting for the gateway process, loaded once
// at startup from GATEWAY_* environment variables.
type Config struct {
	Addr string

	RequireAuth   bool
	WorkOSClientID string

	PostgresDSN string
	RedisURL    string

	SessionIdempotencyTTL time.Duration

	STTBaseURL      string
	STTAPIKey       string
	STTEncoding     string
	STTSampleRateHz int
	STTLanguageCode string

	TTSBaseURL           string
	TTSAPIKey            string
	TTSVoiceLanguageCode string
	TTSVoiceName         string
	TTSVoiceGender       string
	TTSSpeakingRate      float64

	GeminiAPIKey string
	GeminiModel  string

	STTDeadline   time.Duration
	QueryDeadline time.Duration
	TTSDeadline   time.Duration
	StoreDeadline time.Duration

	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	NormalQueueHighWaterMark int

	AudioMaxFPS           int
	AudioMaxBytesPerSecond int64
	AudioBurstSeconds     int

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	ReadHeaderTimeout   time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentStreams  int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("GATEWAY_ADDR", ":7000"),
		RequireAuth:            envBoolOr("GATEWAY_REQUIRE_AUTH", true),
		WorkOSClientID:         envOr("GATEWAY_WORKOS_CLIENT_ID", ""),
		PostgresDSN:            envOr("GATEWAY_POSTGRES_DSN", ""),
		RedisURL:               envOr("GATEWAY_REDIS_URL", ""),
		SessionIdempotencyTTL:  envDurationOr("GATEWAY_IDEMPOTENCY_TTL", 10*time.Minute),
		STTBaseURL:             envOr("GATEWAY_STT_BASE_URL", ""),
		STTAPIKey:              envOr("GATEWAY_STT_API_KEY", ""),
		STTEncoding:            envOr("GATEWAY_STT_ENCODING", "LINEAR16"),
		STTSampleRateHz:        envIntOr("GATEWAY_STT_SAMPLE_RATE_HZ", 16000),
		STTLanguageCode:        envOr("GATEWAY_STT_LANGUAGE_CODE", "en-IN"),
		TTSBaseURL:             envOr("GATEWAY_TTS_BASE_URL", ""),
		TTSAPIKey:              envOr("GATEWAY_TTS_API_KEY", ""),
		TTSVoiceLanguageCode:   envOr("GATEWAY_TTS_VOICE_LANGUAGE_CODE", "en-IN"),
		TTSVoiceName:           envOr("GATEWAY_TTS_VOICE_NAME", "default"),
		TTSVoiceGender:         envOr("GATEWAY_TTS_VOICE_GENDER", ""),
		TTSSpeakingRate:        envFloat64Or("GATEWAY_TTS_SPEAKING_RATE", 1.0),
		GeminiAPIKey:           envOr("GATEWAY_GEMINI_API_KEY", ""),
		GeminiModel:            envOr("GATEWAY_GEMINI_MODEL", "gemini-2.0-flash"),
		STTDeadline:            envDurationOr("GATEWAY_STT_DEADLINE", 15*time.Second),
		QueryDeadline:          envDurationOr("GATEWAY_QUERY_DEADLINE", 20*time.Second),
		TTSDeadline:            envDurationOr("GATEWAY_TTS_DEADLINE", 15*time.Second),
		StoreDeadline:          envDurationOr("GATEWAY_STORE_DEADLINE", 5*time.Second),
		PingInterval:           envDurationOr("GATEWAY_WS_PING_INTERVAL", 20*time.Second),
		WriteTimeout:           envDurationOr("GATEWAY_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadTimeout:            envDurationOr("GATEWAY_WS_READ_TIMEOUT", 0),
		NormalQueueHighWaterMark: envIntOr("GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK", 32),
		AudioMaxFPS:            envIntOr("GATEWAY_AUDIO_MAX_FPS", 120),
		AudioMaxBytesPerSecond: envInt64Or("GATEWAY_AUDIO_MAX_BPS", 128*1024),
		AudioBurstSeconds:      envIntOr("GATEWAY_AUDIO_BURST_SECONDS", 2),
		CORSAllowedOrigins:     make(map[string]struct{}),
		ReadHeaderTimeout:      envDurationOr("GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		HandlerTimeout:         envDurationOr("GATEWAY_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:    envDurationOr("GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),

		LimitRPS:                   envFloat64Or("GATEWAY_LIMIT_RPS", 10),
		LimitBurst:                 envIntOr("GATEWAY_LIMIT_BURST", 20),
		LimitMaxConcurrentRequests: envIntOr("GATEWAY_LIMIT_MAX_CONCURRENT_REQUESTS", 8),
		LimitMaxConcurrentStreams:  envIntOr("GATEWAY_LIMIT_MAX_CONCURRENT_STREAMS", 4),
	}

	for _, origin := range splitCSV(os.Getenv("GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("GATEWAY_ADDR must not be empty")
	}
	if cfg.RequireAuth && strings.TrimSpace(cfg.WorkOSClientID) == "" {
		return Config{}, fmt.Errorf("GATEWAY_WORKOS_CLIENT_ID must be set when GATEWAY_REQUIRE_AUTH=true")
	}
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return Config{}, fmt.Errorf("GATEWAY_POSTGRES_DSN must not be empty")
	}
	if cfg.SessionIdempotencyTTL <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.STTSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_STT_SAMPLE_RATE_HZ must be > 0")
	}
	if strings.TrimSpace(cfg.STTLanguageCode) == "" {
		return Config{}, fmt.Errorf("GATEWAY_STT_LANGUAGE_CODE must not be empty")
	}
	if cfg.TTSSpeakingRate <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TTS_SPEAKING_RATE must be > 0")
	}
	if cfg.STTDeadline <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_STT_DEADLINE must be > 0")
	}
	if cfg.QueryDeadline <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_QUERY_DEADLINE must be > 0")
	}
	if cfg.TTSDeadline <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TTS_DEADLINE must be > 0")
	}
	if cfg.StoreDeadline <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_STORE_DEADLINE must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout < 0 {
		return Config{}, fmt.Errorf("GATEWAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.NormalQueueHighWaterMark <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK must be > 0")
	}
	if cfg.AudioMaxFPS < 0 {
		return Config{}, fmt.Errorf("GATEWAY_AUDIO_MAX_FPS must be >= 0")
	}
	if cfg.AudioMaxBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("GATEWAY_AUDIO_MAX_BPS must be >= 0")
	}
	if cfg.AudioBurstSeconds < 0 {
		return Config{}, fmt.Errorf("GATEWAY_AUDIO_BURST_SECONDS must be >= 0")
	}
	if (cfg.AudioMaxFPS > 0 || cfg.AudioMaxBytesPerSecond > 0) && cfg.AudioBurstSeconds < 1 {
		return Config{}, fmt.Errorf("GATEWAY_AUDIO_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("GATEWAY_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("GATEWAY_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("GATEWAY_LIMIT_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxConcurrentStreams < 0 {
		return Config{}, fmt.Errorf("GATEWAY_LIMIT_MAX_CONCURRENT_STREAMS must be >= 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
