package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode               string        `mapstructure:"mode"`
	Port               int           `mapstructure:"port"`
	StaticPath         string        `mapstructure:"static_path"`
	LogLevel           string        `mapstructure:"log_level"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	PongWait           time.Duration `mapstructure:"pong_wait"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	SendBuffer         int           `mapstructure:"send_buffer"`
	MaxNameLen         int           `mapstructure:"max_name_len"`
	BackpressurePolicy string        `mapstructure:"backpressure_policy"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

var ErrInvalidConfig = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("max_name_len", 64)
	v.SetDefault("backpressure_policy", "drop")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("shutdown_timeout", "5s")
}

// Default returns the built-in configuration without touching files, env or
// flags.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads config/config.<CONFIG_ENV>.yaml (or the --config flag), then
// RELAY_* environment variables, then command-line flags. A missing file is
// not an error.
func Load(args []string) (*Config, error) {
	v, err := newViper(args)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(args []string) (*viper.Viper, error) {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("config", "", "path to a yaml config file")
	fs.Int("port", 0, "listen port")
	fs.String("log_level", "", "trace|debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	for _, name := range []string{"port", "log_level"} {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("policy", cfg.BackpressurePolicy).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	case c.ReadLimit <= 0:
		return fmt.Errorf("%w: read_limit must be positive", ErrInvalidConfig)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalidConfig)
	case c.MaxNameLen <= 0:
		return fmt.Errorf("%w: max_name_len must be positive", ErrInvalidConfig)
	case c.PingPeriod <= 0 || c.PongWait <= 0 || c.WriteWait <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.PingPeriod >= c.PongWait:
		return fmt.Errorf("%w: ping_period %s must be shorter than pong_wait %s", ErrInvalidConfig, c.PingPeriod, c.PongWait)
	}
	switch c.BackpressurePolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("%w: backpressure_policy %q", ErrInvalidConfig, c.BackpressurePolicy)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyLogLevel sets the global zerolog level from the config.
func (c *Config) ApplyLogLevel() {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Watch reloads the config file on change and re-applies the log level.
// Other keys need a restart.
func Watch(args []string) error {
	v, err := newViper(args)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Str("module", "config").Str("file", e.Name).Err(err).Msg("ignored config change")
			return
		}
		cfg.ApplyLogLevel()
		log.Info().Str("module", "config").Str("level", cfg.LogLevel).Msg("log level reloaded")
	})
	v.WatchConfig()
	return nil
}
