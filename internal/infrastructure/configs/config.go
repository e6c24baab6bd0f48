package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hilthontt/roomsync/internal/infrastructure/env"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig         `koanf:"server"`
	API           APIConfig            `koanf:"api"`
	WS            WSConfig             `koanf:"ws"`
	Room          RoomConfig           `koanf:"room"`
	Conversations ConversationsConfig  `koanf:"conversations"`
	Session       SessionConfig        `koanf:"session"`
	Logger        logging.LoggerConfig `koanf:"logger"`
	Tracing       TracingConfig        `koanf:"tracing"`
}

// ServerConfig is the loopback surface used by `roomsync serve`.
type ServerConfig struct {
	Host           string        `koanf:"host" validate:"required"`
	Port           uint16        `koanf:"port" validate:"required"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"gt=0"`
	// RequestsPerWindow throttles the local API; zero disables it.
	RequestsPerWindow int           `koanf:"requests_per_window" validate:"gte=0"`
	RateWindow        time.Duration `koanf:"rate_window" validate:"gt=0"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type APIConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	UploadURL      string        `koanf:"upload_url" validate:"omitempty,url"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	RetryDelay     time.Duration `koanf:"retry_delay" validate:"gte=0"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes" validate:"gt=0"`
	Debug          bool          `koanf:"debug"`
}

type WSConfig struct {
	// BaseURL is derived from the API base when empty.
	BaseURL          string         `koanf:"base_url" validate:"omitempty,url"`
	HandshakeTimeout time.Duration  `koanf:"handshake_timeout" validate:"gt=0"`
	PingInterval     time.Duration  `koanf:"ping_interval" validate:"gte=0"`
	Retry            ws.RetryPolicy `koanf:"retry"`
}

type RoomConfig struct {
	HistoryLimit   int           `koanf:"history_limit" validate:"gt=0,lte=500"`
	DedupWindow    time.Duration `koanf:"dedup_window" validate:"gt=0"`
	PendingTimeout time.Duration `koanf:"pending_timeout" validate:"gte=0"`
	TypingIdle     time.Duration `koanf:"typing_idle" validate:"gt=0"`
	Capacity       int           `koanf:"capacity" validate:"gte=0"`
}

type ConversationsConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type SessionConfig struct {
	// Path of the session file; empty uses the user config directory.
	Path string `koanf:"path"`
}

type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Exporter    string  `koanf:"exporter" validate:"oneof=otlp jaeger"`
	Endpoint    string  `koanf:"endpoint" validate:"required_if=Enabled true"`
	Environment string  `koanf:"environment"`
	SampleRatio float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load(path string) (*Config, error) {
	k := koanf.New(".")

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

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	// Local surface
	setDefault(k, "server.host", "127.0.0.1")
	setDefault(k, "server.port", 7070)
	setDefault(k, "server.allowed_origins", []string{"http://localhost:3000"})
	setDefault(k, "server.read_timeout", 10*time.Second)
	setDefault(k, "server.write_timeout", 30*time.Second)
	setDefault(k, "server.requests_per_window", 120)
	setDefault(k, "server.rate_window", time.Minute)

	// Chat service
	setDefault(k, "api.base_url", "http://localhost:8000/api")
	setDefault(k, "api.timeout", 15*time.Second)
	setDefault(k, "api.max_retries", 2)
	setDefault(k, "api.retry_delay", 500*time.Millisecond)
	setDefault(k, "api.max_upload_bytes", int64(10<<20))

	// Socket
	setDefault(k, "ws.handshake_timeout", 10*time.Second)
	setDefault(k, "ws.ping_interval", 30*time.Second)
	setDefault(k, "ws.retry.max_attempts", ws.DefaultMaxAttempts)
	setDefault(k, "ws.retry.delay", ws.DefaultDelay)
	setDefault(k, "ws.retry.max_delay", time.Minute)
	setDefault(k, "ws.retry.multiplier", 2.0)
	setDefault(k, "ws.retry.jitter", 0.2)

	// Room view
	setDefault(k, "room.history_limit", 50)
	setDefault(k, "room.dedup_window", 5*time.Second)
	setDefault(k, "room.pending_timeout", 30*time.Second)
	setDefault(k, "room.typing_idle", 2*time.Second)
	setDefault(k, "room.capacity", 500)

	setDefault(k, "conversations.poll_interval", 10*time.Second)

	setDefault(k, "logger.encoding", "json")
	setDefault(k, "logger.level", "info")
	setDefault(k, "logger.max_size_mb", 10)
	setDefault(k, "logger.max_backups", 3)

	setDefault(k, "tracing.exporter", "otlp")
	setDefault(k, "tracing.environment", "development")
	setDefault(k, "tracing.sample_ratio", 1.0)
}

func applyEnvOverrides(k *koanf.Koanf) {
	if host := env.GetString("ROOMSYNC_HOST", ""); host != "" {
		k.Set("server.host", host)
	}
	if port := env.GetInt("ROOMSYNC_PORT", 0); port > 0 {
		k.Set("server.port", port)
	}
	if origins := env.GetString("ROOMSYNC_ALLOWED_ORIGINS", ""); origins != "" {
		k.Set("server.allowed_origins", strings.Split(origins, ","))
	}

	if base := env.GetString("API_BASE_URL", ""); base != "" {
		k.Set("api.base_url", base)
	}
	if upload := env.GetString("UPLOAD_URL", ""); upload != "" {
		k.Set("api.upload_url", upload)
	}
	if timeout := env.GetDuration("API_TIMEOUT", 0); timeout > 0 {
		k.Set("api.timeout", timeout)
	}
	if env.GetBool("API_DEBUG", false) {
		k.Set("api.debug", true)
	}

	if base := env.GetString("WS_BASE_URL", ""); base != "" {
		k.Set("ws.base_url", base)
	}
	if attempts := env.GetInt("WS_RECONNECT_ATTEMPTS", -1); attempts >= 0 {
		k.Set("ws.retry.max_attempts", attempts)
	}
	if delay := env.GetDuration("WS_RECONNECT_DELAY", 0); delay > 0 {
		k.Set("ws.retry.delay", delay)
	}
	if env.GetBool("WS_RECONNECT_EXPONENTIAL", false) {
		k.Set("ws.retry.exponential", true)
	}

	if poll := env.GetDuration("CONVERSATIONS_POLL_INTERVAL", 0); poll > 0 {
		k.Set("conversations.poll_interval", poll)
	}
	if path := env.GetString("ROOMSYNC_SESSION_PATH", ""); path != "" {
		k.Set("session.path", path)
	}

	if level := env.GetString("LOG_LEVEL", ""); level != "" {
		k.Set("logger.level", level)
	}
	if dir := env.GetString("LOG_DIR", ""); dir != "" {
		k.Set("logger.file_path", dir)
	}

	if env.GetBool("TRACING_ENABLED", false) {
		k.Set("tracing.enabled", true)
	}
	if exporter := env.GetString("TRACING_EXPORTER", ""); exporter != "" {
		k.Set("tracing.exporter", exporter)
	}
	if endpoint := env.GetString("TRACING_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
