// Package config loads calcbot settings from defaults, an optional YAML
// file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/calcbot/pkg/calc"
	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// WebhookPath is the HTTP route prefix Telegram posts updates to. The
// webhook secret is appended as the last path segment.
const WebhookPath = "/telegram/webhook/"

// Config holds every calcbot setting.
type Config struct {
	ParenthesesLimit int            `yaml:"parentheses_limit"`
	ReleaseStage     string         `yaml:"release_stage"`
	Log              LogConfig      `yaml:"log"`
	HTTP             HTTPConfig     `yaml:"http"`
	GRPC             GRPCConfig     `yaml:"grpc"`
	Telegram         TelegramConfig `yaml:"telegram"`
	History          HistoryConfig  `yaml:"history"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig is the listen address of the HTTP server. Host is shared with
// the gRPC server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GRPCConfig configures the gRPC server.
type GRPCConfig struct {
	Port int `yaml:"port"` // 0 disables the gRPC server
}

// TelegramConfig configures the Telegram bot. The bot runs only when Token
// is set.
type TelegramConfig struct {
	Token         string  `yaml:"token"`
	Endpoint      string  `yaml:"endpoint"`
	Mode          string  `yaml:"mode"`
	WebhookURL    string  `yaml:"webhook_url"`
	WebhookSecret string  `yaml:"webhook_secret"`
	Workers       int     `yaml:"workers"`
	QueueSize     int     `yaml:"queue_size"`
	PollTimeout   int     `yaml:"poll_timeout"` // seconds
	SendRate      float64 `yaml:"send_rate"`    // messages per second
}

// HistoryConfig sizes the in-memory query history.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ParenthesesLimit: calc.DefaultParenthesesLimit,
		ReleaseStage:     "local",
		Log:              LogConfig{Level: "INFO", Format: logging.FormatText},
		HTTP:             HTTPConfig{Host: "0.0.0.0", Port: 8080},
		GRPC:             GRPCConfig{Port: 8081},
		Telegram: TelegramConfig{
			Mode:        ModePolling,
			Workers:     1,
			QueueSize:   1000,
			PollTimeout: 30,
			SendRate:    30,
		},
		History: HistoryConfig{Capacity: store.DefaultCapacity},
	}
}

// envBindings maps configuration keys to the environment variables that
// set them.
var envBindings = []struct{ key, env string }{
	{"parentheses_limit", "PARENTHESES_LIMIT"},
	{"release_stage", "RELEASE_STAGE"},
	{"log.level", "LOG_LEVEL"},
	{"log.format", "LOG_FORMAT"},
	{"http.host", "HOST"},
	{"http.port", "PORT"},
	{"grpc.port", "GRPC_PORT"},
	{"telegram.token", "TG_BOT_API_TOKEN"},
	{"telegram.endpoint", "TG_BOT_API_ENDPOINT"},
	{"telegram.mode", "TG_BOT_MODE"},
	{"telegram.webhook_url", "TG_WEBHOOK_URL"},
	{"telegram.webhook_secret", "TG_WEBHOOK_SECRET"},
	{"telegram.workers", "TG_WORKERS"},
	{"telegram.queue_size", "TG_QUEUE_SIZE"},
	{"telegram.poll_timeout", "TG_POLL_TIMEOUT"},
	{"telegram.send_rate", "TG_SEND_RATE"},
	{"history.capacity", "HISTORY_CAPACITY"},
}

// flagBindings maps command-line flag names to configuration keys.
var flagBindings = map[string]string{
	"parentheses-limit": "parentheses_limit",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"host":              "http.host",
	"port":              "http.port",
	"grpc-port":         "grpc.port",
}

// Load builds a configuration from the defaults, the YAML file at path (if
// path is not empty), the environment and the flags that were set in fs,
// each layer overriding the previous one. fs may be nil, and flags missing
// from it are skipped.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Default(), fmt.Errorf("reading config file: %w", err)
		}
	}

	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return Default(), fmt.Errorf("binding %s: %w", b.env, err)
		}
	}

	if fs != nil {
		for name, key := range flagBindings {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Default(), fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	err := v.UnmarshalExact(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return Default(), fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("parentheses_limit", d.ParenthesesLimit)
	v.SetDefault("release_stage", d.ReleaseStage)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("grpc.port", d.GRPC.Port)
	v.SetDefault("telegram.token", d.Telegram.Token)
	v.SetDefault("telegram.endpoint", d.Telegram.Endpoint)
	v.SetDefault("telegram.mode", d.Telegram.Mode)
	v.SetDefault("telegram.webhook_url", d.Telegram.WebhookURL)
	v.SetDefault("telegram.webhook_secret", d.Telegram.WebhookSecret)
	v.SetDefault("telegram.workers", d.Telegram.Workers)
	v.SetDefault("telegram.queue_size", d.Telegram.QueueSize)
	v.SetDefault("telegram.poll_timeout", d.Telegram.PollTimeout)
	v.SetDefault("telegram.send_rate", d.Telegram.SendRate)
	v.SetDefault("history.capacity", d.History.Capacity)
}

// YAML renders the configuration as a YAML document with the bot token
// and webhook secret masked.
func (c Config) YAML() ([]byte, error) {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Telegram.Token = mask(c.Telegram.Token)
	c.Telegram.WebhookSecret = mask(c.Telegram.WebhookSecret)
	return yaml.Marshal(c)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port %d", c.GRPC.Port)
	}
	if c.GRPC.Port != 0 && c.GRPC.Port == c.HTTP.Port {
		return fmt.Errorf("http and grpc cannot share port %d", c.HTTP.Port)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("invalid history capacity %d", c.History.Capacity)
	}

	t := c.Telegram
	switch t.Mode {
	case ModePolling:
	case ModeWebhook:
		if t.WebhookURL == "" {
			return errors.New("telegram webhook mode requires a webhook url")
		}
		if t.WebhookSecret == "" {
			return errors.New("telegram webhook mode requires a webhook secret")
		}
	default:
		return fmt.Errorf("unknown telegram mode %q", t.Mode)
	}
	if t.Workers < 1 {
		return fmt.Errorf("invalid telegram workers %d", t.Workers)
	}
	if t.QueueSize < 1 {
		return fmt.Errorf("invalid telegram queue size %d", t.QueueSize)
	}
	if t.PollTimeout < 0 {
		return fmt.Errorf("invalid telegram poll timeout %d", t.PollTimeout)
	}
	return nil
}

// HTTPAddr is the listen address of the HTTP server.
func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// GRPCAddr is the listen address of the gRPC server.
func (c Config) GRPCAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.GRPC.Port))
}

// BotEnabled reports whether a Telegram token is configured.
func (t TelegramConfig) BotEnabled() bool {
	return t.Token != ""
}

// PollTimeoutDuration returns the long-poll timeout.
func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return time.Duration(t.PollTimeout) * time.Second
}

// WebhookEndpoint is the full URL registered with Telegram in webhook mode.
func (t TelegramConfig) WebhookEndpoint() string {
	return strings.TrimRight(t.WebhookURL, "/") + WebhookPath + t.WebhookSecret
}
