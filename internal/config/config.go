// Package config loads settings for the relay server and the chat clients.
// Precedence, lowest first: built-in defaults, the YAML file named by
// LIVECHAT_CONFIG, environment variables (a .env file is loaded first).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// DBDSN enables the Postgres transcript archive when set.
	DBDSN string `yaml:"db_dsn"`
	// RedisAddr enables cross-instance fan-out when set.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	// JWTSecret gates admin connections when set.
	JWTSecret string `yaml:"jwt_secret"`

	RateLimit float64 `yaml:"rate_limit"` // inbound frames per second per connection
	RateBurst int     `yaml:"rate_burst"`
}

type ClientConfig struct {
	ServerURL         string   `yaml:"server_url"`
	DataDir           string   `yaml:"data_dir"`
	Token             string   `yaml:"token"`
	SettleDelay       Duration `yaml:"settle_delay"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	Backoff           string   `yaml:"backoff"` // constant or exponential
	TypingInterval    Duration `yaml:"typing_interval"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// SlogLevel converts the configured level name.
func (l LoggingConfig) SlogLevel() slog.Level {
	return parseLogLevel(l.Level)
}

// Duration accepts "500ms"-style strings or plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			RedisChannel: "support-chat",
			RateLimit:    20,
			RateBurst:    40,
		},
		Client: ClientConfig{
			ServerURL:         "ws://localhost:8080/ws",
			DataDir:           "",
			SettleDelay:       Duration(500 * time.Millisecond),
			ReconnectInterval: Duration(3 * time.Second),
			Backoff:           "constant",
			TypingInterval:    Duration(3 * time.Second),
		},
		Logging: LoggingConfig{
			File:  "/tmp/livechat.log",
			Level: "INFO",
		},
	}
}

// Load loads .env, then the YAML file named by LIVECHAT_CONFIG (if any),
// then applies environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	return LoadFile(os.Getenv("LIVECHAT_CONFIG"))
}

// LoadFile is Load without the .env step. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	s := &cfg.Server
	s.Addr = getEnv("ADDR", s.Addr)
	s.DBDSN = getEnv("DB_DSN", s.DBDSN)
	s.RedisAddr = getEnv("REDIS_ADDR", s.RedisAddr)
	s.RedisChannel = getEnv("REDIS_CHANNEL", s.RedisChannel)
	s.JWTSecret = getEnv("JWT_SECRET", s.JWTSecret)

	c := &cfg.Client
	c.ServerURL = getEnv("LIVECHAT_SERVER_URL", c.ServerURL)
	c.DataDir = getEnv("LIVECHAT_DATA_DIR", c.DataDir)
	c.Token = getEnv("LIVECHAT_TOKEN", c.Token)
	c.Backoff = getEnv("LIVECHAT_BACKOFF", c.Backoff)

	cfg.Logging.File = getEnv("LIVECHAT_LOG_FILE", cfg.Logging.File)
	cfg.Logging.Level = getEnv("LIVECHAT_LOG_LEVEL", cfg.Logging.Level)

	var err error
	if s.RateLimit, err = getEnvFloat("LIVECHAT_RATE_LIMIT", s.RateLimit); err != nil {
		return err
	}
	if s.RateBurst, err = getEnvInt("LIVECHAT_RATE_BURST", s.RateBurst); err != nil {
		return err
	}
	for key, dst := range map[string]*Duration{
		"LIVECHAT_SETTLE_DELAY":       &c.SettleDelay,
		"LIVECHAT_RECONNECT_INTERVAL": &c.ReconnectInterval,
		"LIVECHAT_TYPING_INTERVAL":    &c.TypingInterval,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		v, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(v)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
