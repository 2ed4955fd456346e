// Package config loads server settings from an optional YAML file, an
// optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kingsgate/stakechess/internal/session"
	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Economy EconomyConfig `mapstructure:"economy"`
	Logging LoggingConfig `mapstructure:"logging"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// ServerConfig holds the listener and websocket settings.
type ServerConfig struct {
	Port          int             `mapstructure:"port"`
	HealthAddress string          `mapstructure:"health_address"`
	WebSocket     WebSocketConfig `mapstructure:"websocket"`
}

// Address is the listen address of the websocket server.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

type WebSocketConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

// EconomyConfig holds the wallet and stake parameters.
type EconomyConfig struct {
	StartingCoins  int     `mapstructure:"starting_coins"`
	PlatformFeePct float64 `mapstructure:"platform_fee_pct"`
	MinWager       int     `mapstructure:"min_wager"`
	MaxWager       int     `mapstructure:"max_wager"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ReplayConfig controls replay archiving. An empty Dir disables it.
type ReplayConfig struct {
	Dir string `mapstructure:"dir"`
}

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "config/config.yaml"

var envBindings = map[string]string{
	"server.port":                      "PORT",
	"server.health_address":            "HEALTH_ADDRESS",
	"server.websocket.allowed_origins": "WS_ALLOWED_ORIGINS",
	"server.websocket.write_wait":      "WS_WRITE_WAIT",
	"server.websocket.pong_wait":       "WS_PONG_WAIT",
	"server.websocket.send_buffer":     "WS_SEND_BUFFER",
	"server.websocket.read_limit":      "WS_READ_LIMIT",
	"economy.starting_coins":           "STARTING_COINS",
	"economy.platform_fee_pct":         "PLATFORM_FEE_PCT",
	"economy.min_wager":                "MIN_WAGER",
	"economy.max_wager":                "MAX_WAGER",
	"logging.level":                    "LOG_LEVEL",
	"logging.format":                   "LOG_FORMAT",
	"replay.dir":                       "REPLAY_DIR",
}

// Load reads the configuration. A missing file at the default path is not
// an error; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if !missing || path != DefaultPath {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Server.WebSocket.AllowedOrigins = splitOrigins(cfg.Server.WebSocket.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.health_address", ":3001")
	v.SetDefault("server.websocket.allowed_origins", []string{})
	v.SetDefault("server.websocket.write_wait", 10*time.Second)
	v.SetDefault("server.websocket.pong_wait", 60*time.Second)
	v.SetDefault("server.websocket.send_buffer", 64)
	v.SetDefault("server.websocket.read_limit", 4096)

	v.SetDefault("economy.starting_coins", 150)
	v.SetDefault("economy.platform_fee_pct", 0.05)
	v.SetDefault("economy.min_wager", 20)
	v.SetDefault("economy.max_wager", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("replay.dir", "")
}

// splitOrigins flattens comma separated entries, as delivered by
// WS_ALLOWED_ORIGINS, into one origin per element.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("server.websocket.send_buffer must be positive, got %d", c.Server.WebSocket.SendBuffer)
	}
	if c.Server.WebSocket.WriteWait <= 0 || c.Server.WebSocket.PongWait <= 0 {
		return errors.New("server.websocket write_wait and pong_wait must be positive")
	}

	e := c.Economy
	if e.StartingCoins < 0 {
		return fmt.Errorf("economy.starting_coins must not be negative, got %d", e.StartingCoins)
	}
	if e.PlatformFeePct < 0 || e.PlatformFeePct >= 1 {
		return fmt.Errorf("economy.platform_fee_pct must be in [0, 1), got %v", e.PlatformFeePct)
	}
	if e.MinWager <= 0 || e.MinWager > e.MaxWager {
		return fmt.Errorf("economy wager range invalid: min %d, max %d", e.MinWager, e.MaxWager)
	}
	return nil
}

// ToEconomy converts the economy section for the session package.
func (c EconomyConfig) ToEconomy() session.Economy {
	return session.Economy{
		StartingWallet: c.StartingCoins,
		FeeFraction:    c.PlatformFeePct,
		MinStake:       c.MinWager,
		MaxStake:       c.MaxWager,
	}
}
