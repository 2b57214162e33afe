package configs

import (
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/readalong/internal/infrastructure/env"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP       HTTPConfig      `koanf:"http"`
	Auth       AuthConfig      `koanf:"auth"`
	Rooms      RoomsConfig     `koanf:"rooms"`
	RateLimits RateLimitConfig `koanf:"rate_limits"`
	WebSocket  WebSocketConfig `koanf:"websocket"`
	Store      StoreConfig     `koanf:"store"`
	Audit      AuditConfig     `koanf:"audit"`
	Broker     BrokerConfig    `koanf:"broker"`
	Logger     LoggerConfig    `koanf:"logger"`
	Tracing    TracingConfig   `koanf:"tracing"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            uint16        `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	AllowedHeaders  []string      `koanf:"allowed_headers"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type AuthConfig struct {
	Secret   string        `koanf:"secret"`
	Issuer   string        `koanf:"issuer"`
	TokenTTL time.Duration `koanf:"token_ttl"`
	Leeway   time.Duration `koanf:"leeway"`
	// DevTokens mounts an endpoint that mints tokens for local testing.
	DevTokens bool `koanf:"dev_tokens"`
}

type RoomsConfig struct {
	DefaultTTL        time.Duration `koanf:"default_ttl"`
	MaxParticipants   int           `koanf:"max_participants"`
	MaxRooms          int           `koanf:"max_rooms"`
	EmptyGrace        time.Duration `koanf:"empty_grace"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	StaleAfterMisses  int           `koanf:"stale_after_misses"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	HistoryReplay     int           `koanf:"history_replay"`
}

type RateLimitPolicy struct {
	Window        time.Duration `koanf:"window"`
	MaxRequests   int           `koanf:"max_requests"`
	BlockDuration time.Duration `koanf:"block_duration"`
}

type RateLimitConfig struct {
	Retention     time.Duration              `koanf:"retention"`
	SweepInterval time.Duration              `koanf:"sweep_interval"`
	Policies      map[string]RateLimitPolicy `koanf:"policies"`
}

type WebSocketConfig struct {
	MaxMessageSize  int64         `koanf:"max_message_size"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	PongWait        time.Duration `koanf:"pong_wait"`
	WriteWait       time.Duration `koanf:"write_wait"`
	SendBuffer      int           `koanf:"send_buffer"`
	EventsPerSecond float64       `koanf:"events_per_second"`
	EventBurst      int           `koanf:"event_burst"`
}

type StoreConfig struct {
	Driver          string `koanf:"driver"`
	SQLitePath      string `koanf:"sqlite_path"`
	MessageCapacity uint   `koanf:"message_capacity"`
}

type AuditConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type BrokerConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Exchange string `koanf:"exchange"`
}

type LoggerConfig struct {
	FilePath string `koanf:"file_path"`
	Encoding string `koanf:"encoding"`
	Level    string `koanf:"level"`
	Logger   string `koanf:"logger"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
	Endpoint    string `koanf:"endpoint"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if it exists
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.HTTP.Port == 0 {
		errs = append(errs, errors.New("http.port must be set"))
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of: memory sqlite", c.Store.Driver))
	}
	if c.Rooms.MaxParticipants <= 0 {
		errs = append(errs, errors.New("rooms.max_participants must be positive"))
	}
	if c.Audit.Enabled && c.Audit.URI == "" {
		errs = append(errs, errors.New("audit.uri is required when audit is enabled"))
	}
	if c.Broker.Enabled && c.Broker.URI == "" {
		errs = append(errs, errors.New("broker.uri is required when the broker is enabled"))
	}

	return errors.Join(errs...)
}

// StaleAfter is how long a polling participant may stay silent.
func (c RoomsConfig) StaleAfter() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.StaleAfterMisses)
}

// PolicyMap converts the configured policies for the rate limiter.
func (c RateLimitConfig) PolicyMap() map[ratelimiter.Category]ratelimiter.Policy {
	policies := ratelimiter.DefaultPolicies()
	for name, p := range c.Policies {
		policies[ratelimiter.Category(name)] = ratelimiter.Policy{
			Window:        p.Window,
			MaxRequests:   p.MaxRequests,
			BlockDuration: p.BlockDuration,
		}
	}
	return policies
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP defaults
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.idle_timeout", time.Minute)
	setDefault(k, "http.request_timeout", 60*time.Second)
	setDefault(k, "http.shutdown_timeout", 5*time.Second)
	setDefault(k, "http.allowed_origins", []string{"*"})
	setDefault(k, "http.allowed_headers", []string{"Content-Type", "Authorization"})

	// Auth defaults
	setDefault(k, "auth.issuer", "readalong")
	setDefault(k, "auth.token_ttl", 24*time.Hour)
	setDefault(k, "auth.leeway", 5*time.Second)
	setDefault(k, "auth.dev_tokens", false)

	// Room defaults
	setDefault(k, "rooms.default_ttl", 6*time.Hour)
	setDefault(k, "rooms.max_participants", 10)
	setDefault(k, "rooms.max_rooms", 10000)
	setDefault(k, "rooms.empty_grace", 2*time.Minute)
	setDefault(k, "rooms.heartbeat_interval", 4*time.Second)
	setDefault(k, "rooms.stale_after_misses", 3)
	setDefault(k, "rooms.sweep_interval", 5*time.Second)
	setDefault(k, "rooms.history_replay", 50)

	// Rate limiter defaults
	setDefault(k, "rate_limits.retention", ratelimiter.DefaultRetention)
	setDefault(k, "rate_limits.sweep_interval", ratelimiter.DefaultSweepInterval)
	for cat, p := range ratelimiter.DefaultPolicies() {
		prefix := "rate_limits.policies." + string(cat)
		setDefault(k, prefix+".window", p.Window)
		setDefault(k, prefix+".max_requests", p.MaxRequests)
		setDefault(k, prefix+".block_duration", p.BlockDuration)
	}

	// WebSocket defaults
	setDefault(k, "websocket.max_message_size", 32*1024)
	setDefault(k, "websocket.ping_interval", 30*time.Second)
	setDefault(k, "websocket.pong_wait", 60*time.Second)
	setDefault(k, "websocket.write_wait", 10*time.Second)
	setDefault(k, "websocket.send_buffer", 64)
	setDefault(k, "websocket.events_per_second", 20.0)
	setDefault(k, "websocket.event_burst", 40)

	// Store defaults
	setDefault(k, "store.driver", "memory")
	setDefault(k, "store.sqlite_path", "readalong.db")
	setDefault(k, "store.message_capacity", 500)

	// Audit and broker are opt-in
	setDefault(k, "audit.enabled", false)
	setDefault(k, "audit.database", "readalong")
	setDefault(k, "broker.enabled", false)
	setDefault(k, "broker.exchange", "readalong")

	// Logger defaults
	setDefault(k, "logger.file_path", "./logs/")
	setDefault(k, "logger.encoding", "json")
	setDefault(k, "logger.level", "info")
	setDefault(k, "logger.logger", "zap")

	// Tracing defaults
	setDefault(k, "tracing.enabled", false)
	setDefault(k, "tracing.service_name", "readalong-api")
	setDefault(k, "tracing.environment", "development")
	setDefault(k, "tracing.endpoint", "http://localhost:4318/v1/traces")
}

func applyEnvOverrides(k *koanf.Koanf) {
	// HTTP config from env
	if host := env.GetString("HTTP_HOST", ""); host != "" {
		k.Set("http.host", host)
	}
	if port := env.GetInt("HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if readTimeout := env.GetInt("HTTP_READ_TIMEOUT_SECONDS", 0); readTimeout > 0 {
		k.Set("http.read_timeout", time.Duration(readTimeout)*time.Second)
	}
	if writeTimeout := env.GetInt("HTTP_WRITE_TIMEOUT_SECONDS", 0); writeTimeout > 0 {
		k.Set("http.write_timeout", time.Duration(writeTimeout)*time.Second)
	}

	// Auth config from env
	if secret := env.GetString("AUTH_JWT_SECRET", ""); secret != "" {
		k.Set("auth.secret", secret)
	}
	if issuer := env.GetString("AUTH_JWT_ISSUER", ""); issuer != "" {
		k.Set("auth.issuer", issuer)
	}

	// Room config from env
	if ttl := env.GetDuration("ROOM_DEFAULT_TTL", 0); ttl > 0 {
		k.Set("rooms.default_ttl", ttl)
	}
	if grace := env.GetDuration("ROOM_EMPTY_GRACE", -1); grace >= 0 {
		k.Set("rooms.empty_grace", grace)
	}
	if maxParticipants := env.GetInt("ROOM_MAX_PARTICIPANTS", 0); maxParticipants > 0 {
		k.Set("rooms.max_participants", maxParticipants)
	}

	// Store config from env
	if driver := env.GetString("STORE_DRIVER", ""); driver != "" {
		k.Set("store.driver", driver)
	}
	if path := env.GetString("STORE_SQLITE_PATH", ""); path != "" {
		k.Set("store.sqlite_path", path)
	}
	if capacity := env.GetInt("MESSAGE_STORE_CAPACITY", 0); capacity > 0 {
		k.Set("store.message_capacity", uint(capacity))
	}

	// External services from env
	if uri := env.GetString("MONGODB_URI", ""); uri != "" {
		k.Set("audit.uri", uri)
		k.Set("audit.enabled", true)
	}
	if db := env.GetString("MONGODB_DATABASE", ""); db != "" {
		k.Set("audit.database", db)
	}
	if uri := env.GetString("RABBITMQ_URI", ""); uri != "" {
		k.Set("broker.uri", uri)
		k.Set("broker.enabled", true)
	}

	// Logger and tracing from env
	if level := env.GetString("LOGGER_LEVEL", ""); level != "" {
		k.Set("logger.level", level)
	}
	if backend := env.GetString("LOGGER_LOGGER", ""); backend != "" {
		k.Set("logger.logger", backend)
	}
	if endpoint := env.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
		k.Set("tracing.enabled", true)
	}
	if environment := env.GetString("ENVIRONMENT", ""); environment != "" {
		k.Set("tracing.environment", environment)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
