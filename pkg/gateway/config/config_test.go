package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"GATEWAY_ADDR",
	"GATEWAY_REQUIRE_AUTH",
	"GATEWAY_WORKOS_CLIENT_ID",
	"GATEWAY_POSTGRES_DSN",
	"GATEWAY_REDIS_URL",
	"GATEWAY_IDEMPOTENCY_TTL",
	"GATEWAY_STT_BASE_URL",
	"GATEWAY_STT_API_KEY",
	"GATEWAY_STT_ENCODING",
	"GATEWAY_STT_SAMPLE_RATE_HZ",
	"GATEWAY_STT_LANGUAGE_CODE",
	"GATEWAY_TTS_BASE_URL",
	"GATEWAY_TTS_API_KEY",
	"GATEWAY_TTS_VOICE_LANGUAGE_CODE",
	"GATEWAY_TTS_VOICE_NAME",
	"GATEWAY_TTS_VOICE_GENDER",
	"GATEWAY_TTS_SPEAKING_RATE",
	"GATEWAY_GEMINI_API_KEY",
	"GATEWAY_GEMINI_MODEL",
	"GATEWAY_STT_DEADLINE",
	"GATEWAY_QUERY_DEADLINE",
	"GATEWAY_TTS_DEADLINE",
	"GATEWAY_STORE_DEADLINE",
	"GATEWAY_WS_PING_INTERVAL",
	"GATEWAY_WS_WRITE_TIMEOUT",
	"GATEWAY_WS_READ_TIMEOUT",
	"GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK",
	"GATEWAY_AUDIO_MAX_FPS",
	"GATEWAY_AUDIO_MAX_BPS",
	"GATEWAY_AUDIO_BURST_SECONDS",
	"GATEWAY_CORS_ORIGINS",
	"GATEWAY_READ_HEADER_TIMEOUT",
	"GATEWAY_TOTAL_REQUEST_TIMEOUT",
	"GATEWAY_SHUTDOWN_GRACE_PERIOD",
	"GATEWAY_LIMIT_RPS",
	"GATEWAY_LIMIT_BURST",
	"GATEWAY_LIMIT_MAX_CONCURRENT_REQUESTS",
	"GATEWAY_LIMIT_MAX_CONCURRENT_STREAMS",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_WORKOS_CLIENT_ID", "client_test")
	t.Setenv("GATEWAY_POSTGRES_DSN", "postgres://localhost/test")
}

func TestLoadFromEnv_DefaultsMatchSpec(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":7000" {
		t.Fatalf("Addr = %q, want :7000", cfg.Addr)
	}
	if !cfg.RequireAuth {
		t.Fatalf("RequireAuth = false, want true")
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty by default", cfg.RedisURL)
	}
	if cfg.STTEncoding != "LINEAR16" {
		t.Fatalf("STTEncoding = %q, want LINEAR16", cfg.STTEncoding)
	}
	if cfg.STTSampleRateHz != 16000 {
		t.Fatalf("STTSampleRateHz = %d, want 16000", cfg.STTSampleRateHz)
	}
	if cfg.STTLanguageCode != "en-IN" {
		t.Fatalf("STTLanguageCode = %q, want en-IN", cfg.STTLanguageCode)
	}
	if cfg.TTSVoiceLanguageCode != "en-IN" {
		t.Fatalf("TTSVoiceLanguageCode = %q, want en-IN", cfg.TTSVoiceLanguageCode)
	}
	if cfg.TTSVoiceName != "default" {
		t.Fatalf("TTSVoiceName = %q, want default", cfg.TTSVoiceName)
	}
	if cfg.TTSSpeakingRate != 1.0 {
		t.Fatalf("TTSSpeakingRate = %v, want 1.0", cfg.TTSSpeakingRate)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("GeminiModel = %q", cfg.GeminiModel)
	}
	if cfg.STTDeadline != 15*time.Second {
		t.Fatalf("STTDeadline = %v, want 15s", cfg.STTDeadline)
	}
	if cfg.QueryDeadline != 20*time.Second {
		t.Fatalf("QueryDeadline = %v, want 20s", cfg.QueryDeadline)
	}
	if cfg.TTSDeadline != 15*time.Second {
		t.Fatalf("TTSDeadline = %v, want 15s", cfg.TTSDeadline)
	}
	if cfg.StoreDeadline != 5*time.Second {
		t.Fatalf("StoreDeadline = %v, want 5s", cfg.StoreDeadline)
	}
	if cfg.PingInterval != 20*time.Second {
		t.Fatalf("PingInterval = %v, want 20s", cfg.PingInterval)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.ReadTimeout != 0 {
		t.Fatalf("ReadTimeout = %v, want 0", cfg.ReadTimeout)
	}
	if cfg.NormalQueueHighWaterMark != 32 {
		t.Fatalf("NormalQueueHighWaterMark = %d, want 32", cfg.NormalQueueHighWaterMark)
	}
	if cfg.AudioMaxFPS != 120 {
		t.Fatalf("AudioMaxFPS = %d, want 120", cfg.AudioMaxFPS)
	}
	if cfg.AudioMaxBytesPerSecond != 128*1024 {
		t.Fatalf("AudioMaxBytesPerSecond = %d, want %d", cfg.AudioMaxBytesPerSecond, int64(128*1024))
	}
	if cfg.AudioBurstSeconds != 2 {
		t.Fatalf("AudioBurstSeconds = %d, want 2", cfg.AudioBurstSeconds)
	}
	if cfg.SessionIdempotencyTTL != 10*time.Minute {
		t.Fatalf("SessionIdempotencyTTL = %v, want 10m", cfg.SessionIdempotencyTTL)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.HandlerTimeout != 2*time.Minute {
		t.Fatalf("HandlerTimeout = %v, want 2m", cfg.HandlerTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.LimitRPS != 10 || cfg.LimitBurst != 20 || cfg.LimitMaxConcurrentRequests != 8 || cfg.LimitMaxConcurrentStreams != 4 {
		t.Fatalf("rate limit defaults mismatch: %+v", cfg)
	}
}

func TestLoadFromEnv_UsesOverrides(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("GATEWAY_ADDR", ":9090")
	t.Setenv("GATEWAY_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GATEWAY_STT_ENCODING", "LINEAR16")
	t.Setenv("GATEWAY_STT_SAMPLE_RATE_HZ", "8000")
	t.Setenv("GATEWAY_STT_LANGUAGE_CODE", "hi-IN")
	t.Setenv("GATEWAY_TTS_VOICE_LANGUAGE_CODE", "hi-IN")
	t.Setenv("GATEWAY_TTS_VOICE_NAME", "warm")
	t.Setenv("GATEWAY_TTS_VOICE_GENDER", "FEMALE")
	t.Setenv("GATEWAY_TTS_SPEAKING_RATE", "1.25")
	t.Setenv("GATEWAY_STT_DEADLINE", "9s")
	t.Setenv("GATEWAY_QUERY_DEADLINE", "11s")
	t.Setenv("GATEWAY_TTS_DEADLINE", "13s")
	t.Setenv("GATEWAY_STORE_DEADLINE", "2s")
	t.Setenv("GATEWAY_WS_PING_INTERVAL", "8s")
	t.Setenv("GATEWAY_WS_WRITE_TIMEOUT", "3s")
	t.Setenv("GATEWAY_WS_READ_TIMEOUT", "4s")
	t.Setenv("GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK", "64")
	t.Setenv("GATEWAY_AUDIO_MAX_FPS", "55")
	t.Setenv("GATEWAY_AUDIO_MAX_BPS", "222222")
	t.Setenv("GATEWAY_AUDIO_BURST_SECONDS", "3")
	t.Setenv("GATEWAY_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GATEWAY_SHUTDOWN_GRACE_PERIOD", "31s")
	t.Setenv("GATEWAY_LIMIT_RPS", "5.5")
	t.Setenv("GATEWAY_LIMIT_BURST", "12")
	t.Setenv("GATEWAY_LIMIT_MAX_CONCURRENT_REQUESTS", "3")
	t.Setenv("GATEWAY_LIMIT_MAX_CONCURRENT_STREAMS", "2")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q, want redis://localhost:6379/0", cfg.RedisURL)
	}
	if cfg.STTSampleRateHz != 8000 || cfg.STTLanguageCode != "hi-IN" {
		t.Fatalf("stt config mismatch: %+v", cfg)
	}
	if cfg.TTSVoiceLanguageCode != "hi-IN" || cfg.TTSVoiceName != "warm" || cfg.TTSVoiceGender != "FEMALE" || cfg.TTSSpeakingRate != 1.25 {
		t.Fatalf("tts voice mismatch: %+v", cfg)
	}
	if cfg.STTDeadline != 9*time.Second || cfg.QueryDeadline != 11*time.Second || cfg.TTSDeadline != 13*time.Second || cfg.StoreDeadline != 2*time.Second {
		t.Fatalf("deadlines mismatch: %+v", cfg)
	}
	if cfg.PingInterval != 8*time.Second || cfg.WriteTimeout != 3*time.Second || cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("ws timeouts mismatch: %+v", cfg)
	}
	if cfg.NormalQueueHighWaterMark != 64 {
		t.Fatalf("NormalQueueHighWaterMark = %d, want 64", cfg.NormalQueueHighWaterMark)
	}
	if cfg.AudioMaxFPS != 55 || cfg.AudioMaxBytesPerSecond != 222222 || cfg.AudioBurstSeconds != 3 {
		t.Fatalf("audio limits mismatch: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("missing https://b.example")
	}
	if cfg.ShutdownGracePeriod != 31*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 31s", cfg.ShutdownGracePeriod)
	}
	if cfg.LimitRPS != 5.5 || cfg.LimitBurst != 12 || cfg.LimitMaxConcurrentRequests != 3 || cfg.LimitMaxConcurrentStreams != 2 {
		t.Fatalf("rate limit overrides mismatch: %+v", cfg)
	}
}

func TestLoadFromEnv_RedisURLOptional(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want success with GATEWAY_REDIS_URL unset", err)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoadFromEnv_RequireAuthNeedsWorkOSClientID(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GATEWAY_POSTGRES_DSN", "postgres://localhost/test")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GATEWAY_WORKOS_CLIENT_ID") {
		t.Fatalf("error = %v, expected GATEWAY_WORKOS_CLIENT_ID in message", err)
	}
}

func TestLoadFromEnv_RequireAuthDisabled_SkipsWorkOSClientID(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GATEWAY_REQUIRE_AUTH", "false")
	t.Setenv("GATEWAY_POSTGRES_DSN", "postgres://localhost/test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.RequireAuth {
		t.Fatalf("RequireAuth = true, want false")
	}
}

func TestLoadFromEnv_MissingPostgresDSN(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GATEWAY_WORKOS_CLIENT_ID", "client_test")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GATEWAY_POSTGRES_DSN") {
		t.Fatalf("error = %v, expected GATEWAY_POSTGRES_DSN in message", err)
	}
}

func TestLoadFromEnv_ParsesCSVOrigins(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("GATEWAY_CORS_ORIGINS", "https://one.example, https://two.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
}

func TestLoadFromEnv_InvalidDurationsAndBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name: "invalid idempotency ttl",
			env: map[string]string{
				"GATEWAY_IDEMPOTENCY_TTL": "0s",
			},
			errSubstr: "GATEWAY_IDEMPOTENCY_TTL",
		},
		{
			name: "invalid store deadline",
			env: map[string]string{
				"GATEWAY_STORE_DEADLINE": "0s",
			},
			errSubstr: "GATEWAY_STORE_DEADLINE",
		},
		{
			name: "invalid shutdown grace period",
			env: map[string]string{
				"GATEWAY_SHUTDOWN_GRACE_PERIOD": "0s",
			},
			errSubstr: "GATEWAY_SHUTDOWN_GRACE_PERIOD",
		},
		{
			name: "invalid normal queue high water mark",
			env: map[string]string{
				"GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK": "0",
			},
			errSubstr: "GATEWAY_NORMAL_QUEUE_HIGH_WATER_MARK",
		},
		{
			name: "invalid audio max fps",
			env: map[string]string{
				"GATEWAY_AUDIO_MAX_FPS": "-1",
			},
			errSubstr: "GATEWAY_AUDIO_MAX_FPS",
		},
		{
			name: "invalid audio burst seconds when limits enabled",
			env: map[string]string{
				"GATEWAY_AUDIO_MAX_FPS":       "10",
				"GATEWAY_AUDIO_BURST_SECONDS": "0",
			},
			errSubstr: "GATEWAY_AUDIO_BURST_SECONDS",
		},
		{
			name: "invalid stt sample rate",
			env: map[string]string{
				"GATEWAY_STT_SAMPLE_RATE_HZ": "0",
			},
			errSubstr: "GATEWAY_STT_SAMPLE_RATE_HZ",
		},
		{
			name: "invalid tts speaking rate",
			env: map[string]string{
				"GATEWAY_TTS_SPEAKING_RATE": "0",
			},
			errSubstr: "GATEWAY_TTS_SPEAKING_RATE",
		},
		{
			name: "invalid limit rps",
			env: map[string]string{
				"GATEWAY_LIMIT_RPS": "-1",
			},
			errSubstr: "GATEWAY_LIMIT_RPS",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			setRequiredEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
