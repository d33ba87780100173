package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// Config returns the value of an environment variable, loading .env on first use.
func Config(key string) string {
	loadOnce.Do(func() {
		// a missing .env is fine, the process environment still applies
		_ = godotenv.Load(".env")
	})
	return os.Getenv(key)
}

// Settings is the typed view of the process configuration.
type Settings struct {
	ServerPort string
	PublicURL  string
	Backend    string // "postgres" or "memory"
	LogLevel   string
	LogPretty  bool

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	SQLitePath string // accounts and policies when Backend is "memory"

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       []int // [0] cache/tokens, [1] feed and socket.io adapter

	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string
	EventQueue       string

	JWTAccessKey     string
	JWTRefreshKey    string
	JWTAccessExpire  time.Duration
	JWTRefreshExpire time.Duration
	BcryptCost       int

	HistoryLimit int
	// CatchUpInterval is the store re-read period of a synced subscription.
	CatchUpInterval time.Duration
	DedupUploads    bool
}

// Load reads Settings from the environment, applying defaults for anything unset.
func Load() Settings {
	return Settings{
		ServerPort: withDefault("SERVER_PORT", "3000"),
		PublicURL:  strings.TrimSuffix(withDefault("PUBLIC_URL", "http://localhost:3000"), "/"),
		Backend:    strings.ToLower(withDefault("BACKEND", "postgres")),
		LogLevel:   withDefault("LOG_LEVEL", "info"),
		LogPretty:  boolValue("LOG_PRETTY", false),

		PostgresHost:     withDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:     withDefault("POSTGRES_PORT", "5432"),
		PostgresUser:     withDefault("POSTGRES_USER", "postgres"),
		PostgresPassword: Config("POSTGRES_PASSWORD"),
		PostgresDB:       withDefault("POSTGRES_DB", "realtimechat"),

		SQLitePath: withDefault("SQLITE_PATH", ":memory:"),

		RedisHost:     withDefault("REDIS_HOST", "localhost"),
		RedisPort:     withDefault("REDIS_PORT", "6379"),
		RedisPassword: Config("REDIS_PASSWORD"),
		RedisDB:       intList("REDIS_DB", []int{0, 1}),

		RabbitMQUser:     withDefault("RABBITMQ_USER", "guest"),
		RabbitMQPassword: withDefault("RABBITMQ_PASSWORD", "guest"),
		RabbitMQHost:     withDefault("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     withDefault("RABBITMQ_PORT", "5672"),
		EventQueue:       withDefault("EVENT_QUEUE", "chat"),

		JWTAccessKey:     Config("JWT_ACCESS_KEY"),
		JWTRefreshKey:    Config("JWT_REFRESH_KEY"),
		JWTAccessExpire:  minutes("JWT_ACCESS_EXPIRE", 15),
		JWTRefreshExpire: minutes("JWT_REFRESH_EXPIRE", 60*24*7),
		BcryptCost:       intValue("BCRYPT_COST", 12),

		HistoryLimit:    intValue("HISTORY_LIMIT", 50),
		CatchUpInterval: time.Duration(intValue("CATCHUP_SECONDS", 5)) * time.Second,
		DedupUploads:    boolValue("DEDUP_UPLOADS", true),
	}
}

func withDefault(key, def string) string {
	if v := strings.TrimSpace(Config(key)); v != "" {
		return v
	}
	return def
}

func intValue(key string, def int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(Config(key))); err == nil {
		return i
	}
	return def
}

func boolValue(key string, def bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(Config(key))); err == nil {
		return b
	}
	return def
}

// minutes reads an expiry expressed in minutes, as the JWT_*_EXPIRE variables are.
func minutes(key string, def int) time.Duration {
	return time.Duration(intValue(key, def)) * time.Minute
}

func intList(key string, def []int) []int {
	raw := strings.TrimSpace(Config(key))
	if raw == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
