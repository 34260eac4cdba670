package app

import (
	"time"

	"haven/cmd/internal/auth"
	"haven/cmd/internal/notify"
	"haven/cmd/internal/ratelimit"
	"haven/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// RedisURL enables the shared rate-limit window store.
	RedisURL string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	LivePolicy   ratelimit.Policy
	HTTPPolicy   ratelimit.Policy
	CreatePolicy ratelimit.Policy

	Notify notify.Config
	// PushEnabled selects the real push transport. The hosted push API
	// needs no URL, so opting in is explicit.
	PushEnabled bool
	Push        notify.PushConfig
	SMTP   notify.SMTPConfig
	SMS    notify.SMSConfig

	WS   realtime.GatewayConfig
	Auth auth.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:  EnvString("HAVEN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HAVEN_LOG_LEVEL", "info"),
		LogFormat: EnvString("HAVEN_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HAVEN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HAVEN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HAVEN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HAVEN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("HAVEN_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("HAVEN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("HAVEN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HAVEN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HAVEN_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("HAVEN_DB_SCHEMA", "haven"),

		RedisURL: EnvString("HAVEN_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("HAVEN_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("HAVEN_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("HAVEN_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("HAVEN_CORS_MAX_AGE_SECONDS", 600),

		LivePolicy: ratelimit.Policy{
			Name:   ratelimit.LivePolicy.Name,
			Max:    EnvInt("HAVEN_RL_WS_MAX", ratelimit.LivePolicy.Max),
			Window: EnvDuration("HAVEN_RL_WS_WINDOW", ratelimit.LivePolicy.Window),
		},
		HTTPPolicy: ratelimit.Policy{
			Name:   ratelimit.HTTPSendPolicy.Name,
			Max:    EnvInt("HAVEN_RL_HTTP_MAX", ratelimit.HTTPSendPolicy.Max),
			Window: EnvDuration("HAVEN_RL_HTTP_WINDOW", ratelimit.HTTPSendPolicy.Window),
		},
		CreatePolicy: ratelimit.Policy{
			Name:   ratelimit.CreateConversationPolicy.Name,
			Max:    EnvInt("HAVEN_RL_CREATE_MAX", ratelimit.CreateConversationPolicy.Max),
			Window: EnvDuration("HAVEN_RL_CREATE_WINDOW", ratelimit.CreateConversationPolicy.Window),
		},

		Notify: notify.Config{
			Workers:         EnvInt("HAVEN_NOTIFY_WORKERS", 4),
			QueueSize:       EnvInt("HAVEN_NOTIFY_QUEUE", 1024),
			DeliveryTimeout: EnvDuration("HAVEN_NOTIFY_TIMEOUT", 10*time.Second),
		},
		PushEnabled: EnvBool("HAVEN_PUSH_ENABLED", false),
		Push: notify.PushConfig{
			URL:           EnvString("HAVEN_PUSH_URL", ""),
			AccessToken:   EnvString("HAVEN_PUSH_ACCESS_TOKEN", ""),
			RatePerSecond: EnvFloat("HAVEN_PUSH_RATE", 50),
			Burst:         EnvInt("HAVEN_PUSH_BURST", 10),
		},
		SMTP: notify.SMTPConfig{
			Addr:          EnvString("HAVEN_SMTP_ADDR", ""),
			Username:      EnvString("HAVEN_SMTP_USER", ""),
			Password:      EnvString("HAVEN_SMTP_PASSWORD", ""),
			From:          EnvString("HAVEN_SMTP_FROM", ""),
			RatePerSecond: EnvFloat("HAVEN_SMTP_RATE", 5),
			Burst:         EnvInt("HAVEN_SMTP_BURST", 5),
		},
		SMS: notify.SMSConfig{
			URL:           EnvString("HAVEN_SMS_URL", ""),
			APIKey:        EnvString("HAVEN_SMS_API_KEY", ""),
			From:          EnvString("HAVEN_SMS_FROM", "Haven"),
			RatePerSecond: EnvFloat("HAVEN_SMS_RATE", 5),
			Burst:         EnvInt("HAVEN_SMS_BURST", 5),
		},

		WS:   realtime.LoadGatewayConfigFromEnv(),
		Auth: authCfg,
	}, nil
}
