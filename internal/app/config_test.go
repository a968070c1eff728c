package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.JWTAlgorithm != "HS256" {
		t.Fatalf("JWTAlgorithm = %q", cfg.JWTAlgorithm)
	}
	if cfg.AccessTokenExpireMinutes != 15 {
		t.Fatalf("AccessTokenExpireMinutes = %d", cfg.AccessTokenExpireMinutes)
	}
	if cfg.RefreshTokenExpireDays != 30 {
		t.Fatalf("RefreshTokenExpireDays = %d", cfg.RefreshTokenExpireDays)
	}
	if cfg.MessageMaxLength != 2000 {
		t.Fatalf("MessageMaxLength = %d", cfg.MessageMaxLength)
	}
	if cfg.AuthRateLimitWindowSeconds != 60 || cfg.AuthRateLimitMaxRequests != 12 {
		t.Fatalf("auth rate limit = %d/%ds", cfg.AuthRateLimitMaxRequests, cfg.AuthRateLimitWindowSeconds)
	}
	if cfg.WSOutgoingQueueSize != 200 {
		t.Fatalf("WSOutgoingQueueSize = %d", cfg.WSOutgoingQueueSize)
	}
	if !cfg.RealtimeDispatcherEnabled {
		t.Fatal("dispatcher should default to enabled")
	}
	if cfg.RealtimeDispatcherPollEvery != 250*time.Millisecond {
		t.Fatalf("RealtimeDispatcherPollEvery = %v", cfg.RealtimeDispatcherPollEvery)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MSG_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("MSG_ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("MSG_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("MSG_REALTIME_DISPATCHER_ENABLED", "false")
	t.Setenv("MSG_REALTIME_DISPATCHER_POLL_MS", "100")
	t.Setenv("MSG_WS_IDLE_TIMEOUT_SEC", "30")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.AccessTokenExpireMinutes != 5 {
		t.Fatalf("AccessTokenExpireMinutes = %d", cfg.AccessTokenExpireMinutes)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.RealtimeDispatcherEnabled {
		t.Fatal("dispatcher should be disabled")
	}
	if cfg.RealtimeDispatcherPollEvery != 100*time.Millisecond {
		t.Fatalf("RealtimeDispatcherPollEvery = %v", cfg.RealtimeDispatcherPollEvery)
	}
	if cfg.WSIdleTimeout != 30*time.Second {
		t.Fatalf("WSIdleTimeout = %v", cfg.WSIdleTimeout)
	}
}

func TestEnvHelpers_BadValuesFallBack(t *testing.T) {
	t.Setenv("MSG_DB_MAX_CONNS", "not-a-number")
	t.Setenv("MSG_HTTP_WRITE_TIMEOUT", "-3s")
	t.Setenv("MSG_MESSAGE_MAX_LENGTH", "0")

	cfg := LoadConfig()

	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns = %d, want default 10", cfg.DBMaxConns)
	}
	if cfg.WriteTimeout != 30*time.Second {
		t.Fatalf("WriteTimeout = %v, want default 30s", cfg.WriteTimeout)
	}
	if cfg.MessageMaxLength != 2000 {
		t.Fatalf("MessageMaxLength = %d, want default 2000", cfg.MessageMaxLength)
	}
}
