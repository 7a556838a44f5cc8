package app

import (
	"time"

	"coachhub/cmd/internal/messaging"
	"coachhub/cmd/internal/realtime"
)

// Store backends selectable with COACHHUB_STORE.
const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Change feeds selectable with COACHHUB_FEED.
const (
	FeedLocal = "local"
	FeedNATS  = "nats"
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
	MaxHeaderBytes    int

	Store     string
	PebbleDir string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	Feed              string
	NATSURL           string
	NATSSubjectPrefix string

	JWTKey               string
	RequireStrongJWTKey  bool
	RosterFile           string
	SearchDebounce       time.Duration
	MatchWindow          time.Duration
	APIRateLimit         int
	APIRateWindow        time.Duration
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WS realtime.WSConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COACHHUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COACHHUB_LOG_LEVEL", "info"),
		LogFormat: EnvString("COACHHUB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COACHHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COACHHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COACHHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COACHHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COACHHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		Store:     EnvString("COACHHUB_STORE", StoreMemory),
		PebbleDir: EnvString("COACHHUB_PEBBLE_DIR", "data/messages"),

		DatabaseURL: EnvString("COACHHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("COACHHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COACHHUB_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("COACHHUB_DB_SCHEMA", "coachhub"),

		ReadinessRequireDB: EnvBool("COACHHUB_READINESS_REQUIRE_DB", false),

		Feed:              EnvString("COACHHUB_FEED", FeedLocal),
		NATSURL:           EnvString("COACHHUB_NATS_URL", ""),
		NATSSubjectPrefix: EnvString("COACHHUB_NATS_SUBJECT_PREFIX", messaging.DefaultNATSSubjectPrefix),

		JWTKey:              EnvString("COACHHUB_JWT_KEY", ""),
		RequireStrongJWTKey: EnvBool("COACHHUB_REQUIRE_STRONG_JWT_KEY", false),
		RosterFile:          EnvString("COACHHUB_ROSTER_FILE", ""),
		SearchDebounce:      EnvDuration("COACHHUB_SEARCH_DEBOUNCE", messaging.DefaultSearchDebounce),
		MatchWindow:         EnvDuration("COACHHUB_MATCH_WINDOW", messaging.DefaultMatchWindow),
		APIRateLimit:        EnvInt("COACHHUB_API_RATE_LIMIT", 300),
		APIRateWindow:       EnvDuration("COACHHUB_API_RATE_WINDOW", time.Minute),

		CORSAllowedOrigins:   EnvCSV("COACHHUB_CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173"),
		CORSAllowCredentials: EnvBool("COACHHUB_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("COACHHUB_CORS_MAX_AGE", 600),

		WS: realtime.WSConfig{
			DevInsecure:      EnvBool("COACHHUB_WS_DEV_INSECURE", false),
			OriginRequired:   EnvBool("COACHHUB_WS_ORIGIN_REQUIRED", true),
			AllowedOrigins:   EnvCSV("COACHHUB_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
			WriteTimeout:     EnvDuration("COACHHUB_WS_WRITE_TIMEOUT", 5*time.Second),
			ReadIdle:         EnvDuration("COACHHUB_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
			OpTimeout:        EnvDuration("COACHHUB_WS_OP_TIMEOUT", 10*time.Second),
			SendQueue:        EnvInt("COACHHUB_WS_SEND_QUEUE", 256),
			Heartbeat:        EnvDuration("COACHHUB_WS_HEARTBEAT_INTERVAL", 25*time.Second),
			HeartbeatTimeout: EnvDuration("COACHHUB_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
			RateEvents:       EnvInt("COACHHUB_WS_RATE_EVENTS", 120),
			RateWindow:       EnvDuration("COACHHUB_WS_RATE_WINDOW", 10*time.Second),
		},
	}
}
