package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Token signing. SecretKey must be overridden outside local development.
	SecretKey                string
	JWTAlgorithm             string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int

	MessageMaxLength int

	// CORS allowlist for browser clients (comma-separated origins).
	CORSOrigins []string

	// Sliding-window limits applied to /v1/auth/{register,login,refresh} per
	// client IP and endpoint; /v1/auth/logout is not limited.
	AuthRateLimitWindowSeconds int
	AuthRateLimitMaxRequests   int

	// Websocket session policy.
	WSHeartbeatSec            int
	WSIdleTimeout             time.Duration
	WSMaxCommandBytes         int
	WSRateLimitWindow         time.Duration
	WSRateLimitMaxCommands    int
	WSMaxIDsPerSubscribe      int
	WSMaxSubscriptionsPerConn int
	WSOutgoingQueueSize       int

	RealtimeDispatcherEnabled   bool
	RealtimeDispatcherPollEvery time.Duration
	RealtimeDispatcherBatchSize int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	pollMs := EnvInt("MSG_REALTIME_DISPATCHER_POLL_MS", 250)

	return Config{
		HTTPAddr:  EnvString("MSG_HTTP_ADDR", "0.0.0.0:8000"),
		LogLevel:  EnvString("MSG_LOG_LEVEL", "info"),
		LogFormat: EnvString("MSG_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MSG_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		WriteTimeout:      EnvDuration("MSG_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("MSG_HTTP_IDLE_TIMEOUT", 60*time.Second),

		DatabaseURL: EnvString("MSG_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("MSG_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MSG_DB_MIN_CONNS", 0),

		SecretKey:                EnvString("MSG_SECRET_KEY", "change-me-in-production"),
		JWTAlgorithm:             EnvString("MSG_JWT_ALGORITHM", "HS256"),
		AccessTokenExpireMinutes: EnvInt("MSG_ACCESS_TOKEN_EXPIRE_MINUTES", 15),
		RefreshTokenExpireDays:   EnvInt("MSG_REFRESH_TOKEN_EXPIRE_DAYS", 30),

		MessageMaxLength: EnvInt("MSG_MESSAGE_MAX_LENGTH", 2000),

		CORSOrigins: parseCSV(EnvString("MSG_CORS_ORIGINS", "http://localhost:3000,http://localhost:8081")),

		AuthRateLimitWindowSeconds: EnvInt("MSG_AUTH_RATE_LIMIT_WINDOW_SECONDS", 60),
		AuthRateLimitMaxRequests:   EnvInt("MSG_AUTH_RATE_LIMIT_MAX_REQUESTS", 12),

		WSHeartbeatSec:            EnvInt("MSG_WS_HEARTBEAT_SEC", 25),
		WSIdleTimeout:             time.Duration(EnvInt("MSG_WS_IDLE_TIMEOUT_SEC", 60)) * time.Second,
		WSMaxCommandBytes:         EnvInt("MSG_WS_MAX_COMMAND_BYTES", 16<<10),
		WSRateLimitWindow:         time.Duration(EnvInt("MSG_WS_RATE_LIMIT_WINDOW_SEC", 10)) * time.Second,
		WSRateLimitMaxCommands:    EnvInt("MSG_WS_RATE_LIMIT_MAX_COMMANDS", 60),
		WSMaxIDsPerSubscribe:      EnvInt("MSG_WS_MAX_IDS_PER_SUBSCRIBE", 50),
		WSMaxSubscriptionsPerConn: EnvInt("MSG_WS_MAX_SUBSCRIPTIONS_PER_CONNECTION", 500),
		WSOutgoingQueueSize:       EnvInt("MSG_WS_OUTGOING_QUEUE_SIZE", 200),

		RealtimeDispatcherEnabled:   EnvBool("MSG_REALTIME_DISPATCHER_ENABLED", true),
		RealtimeDispatcherPollEvery: time.Duration(pollMs) * time.Millisecond,
		RealtimeDispatcherBatchSize: EnvInt("MSG_REALTIME_DISPATCHER_BATCH_SIZE", 100),
	}
}
