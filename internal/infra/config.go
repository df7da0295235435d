package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orderflow/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on the feed handshake
	DefaultUserAgent = "orderflow/1.0 (+live heatmap)"
)

// Config holds every setting of the pipeline.
// LoadConfig starts from Defaults, applies the YAML file, then environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL            string            `yaml:"ws_url"`
		AuthToken        string            `yaml:"auth_token"`
		AuthHeader       string            `yaml:"auth_header"`
		Headers          map[string]string `yaml:"headers"`
		HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration     `yaml:"write_timeout"`
		ReadTimeout      time.Duration     `yaml:"read_timeout"`
		InboxSize        int               `yaml:"inbox_size"`
	} `yaml:"feed"`

	Reconnect struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"reconnect"`

	Heartbeat struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"heartbeat"`

	Aggregator struct {
		Window          time.Duration   `yaml:"window"`
		PriceStep       decimal.Decimal `yaml:"price_step"`
		HistoryCapacity int             `yaml:"history_capacity"`
	} `yaml:"aggregator"`

	Renderer struct {
		FPS           int             `yaml:"fps"`
		Width         int             `yaml:"width"`
		Height        int             `yaml:"height"`
		TimeWindow    time.Duration   `yaml:"time_window"`
		Palette       string          `yaml:"palette"`
		SizeClass     string          `yaml:"size_class"`
		IntensityCap  decimal.Decimal `yaml:"intensity_cap"`
		OutputDir     string          `yaml:"output_dir"`
		OutputWidth   int             `yaml:"output_width"`
		OutputHeight  int             `yaml:"output_height"`
		SaveEveryN    int             `yaml:"save_every_n"`
		DepthStripPct int             `yaml:"depth_strip_pct"`
	} `yaml:"renderer"`

	Session struct {
		Instrument string `yaml:"instrument"`
		Timeframe  string `yaml:"timeframe"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"session"`

	Storage struct {
		Path       string `yaml:"path"`
		BufferSize int    `yaml:"buffer_size"`
	} `yaml:"storage"`

	Status struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"status"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	var cfg Config
	cfg.App.Name = "orderflow"
	cfg.App.Version = "dev"

	cfg.Feed.WSURL = "ws://localhost:8000/ws"
	cfg.Feed.AuthHeader = "Authorization"
	cfg.Feed.HandshakeTimeout = 10 * time.Second
	cfg.Feed.WriteTimeout = 5 * time.Second
	cfg.Feed.ReadTimeout = 60 * time.Second
	cfg.Feed.InboxSize = 1024

	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.BaseDelay = 1 * time.Second
	cfg.Reconnect.MaxDelay = 30 * time.Second

	cfg.Heartbeat.Interval = 25 * time.Second
	cfg.Heartbeat.Timeout = 10 * time.Second

	cfg.Aggregator.Window = 100 * time.Millisecond
	cfg.Aggregator.PriceStep = decimal.RequireFromString("0.05")
	cfg.Aggregator.HistoryCapacity = 500

	cfg.Renderer.FPS = 10
	cfg.Renderer.Width = 960
	cfg.Renderer.Height = 540
	cfg.Renderer.TimeWindow = 5 * time.Minute
	cfg.Renderer.Palette = string(domain.PaletteClassic)
	cfg.Renderer.SizeClass = string(domain.SizeMedium)
	cfg.Renderer.IntensityCap = decimal.NewFromInt(1000)
	cfg.Renderer.SaveEveryN = 0
	cfg.Renderer.DepthStripPct = 8

	cfg.Session.Instrument = "RELIANCE"
	cfg.Session.Timeframe = "1min"
	cfg.Session.Timezone = "Asia/Kolkata"

	cfg.Storage.Path = ""
	cfg.Storage.BufferSize = 256

	cfg.Status.ChannelPrefix = "orderflow:status"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	return cfg
}

// LoadConfig reads the YAML file at path on top of Defaults.
// A missing file is not an error; the defaults plus environment are used.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("not a websocket url: %q", c.Feed.WSURL)}
	}
	if c.Feed.InboxSize <= 0 {
		return &domain.ConfigError{Field: "feed.inbox_size", Err: errors.New("must be positive")}
	}

	if c.Reconnect.MaxAttempts <= 0 {
		return &domain.ConfigError{Field: "reconnect.max_attempts", Err: errors.New("must be positive")}
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return &domain.ConfigError{Field: "reconnect", Err: errors.New("need 0 < base_delay <= max_delay")}
	}

	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return &domain.ConfigError{Field: "heartbeat", Err: errors.New("interval and timeout must be positive")}
	}

	if c.Aggregator.Window < 100*time.Millisecond || c.Aggregator.Window > time.Second {
		return &domain.ConfigError{Field: "aggregator.window", Err: fmt.Errorf("%s outside 100ms..1s", c.Aggregator.Window)}
	}
	if !c.Aggregator.PriceStep.IsPositive() {
		return &domain.ConfigError{Field: "aggregator.price_step", Err: errors.New("must be positive")}
	}
	if c.Aggregator.HistoryCapacity <= 0 {
		return &domain.ConfigError{Field: "aggregator.history_capacity", Err: errors.New("must be positive")}
	}

	if c.Renderer.FPS <= 0 || c.Renderer.FPS > 60 {
		return &domain.ConfigError{Field: "renderer.fps", Err: fmt.Errorf("%d outside 1..60", c.Renderer.FPS)}
	}
	if c.Renderer.Width <= 0 || c.Renderer.Height <= 0 {
		return &domain.ConfigError{Field: "renderer.size", Err: errors.New("width and height must be positive")}
	}
	if _, err := domain.ParsePalette(c.Renderer.Palette); err != nil {
		return &domain.ConfigError{Field: "renderer.palette", Err: err}
	}
	if _, err := domain.ParseSizeClass(c.Renderer.SizeClass); err != nil {
		return &domain.ConfigError{Field: "renderer.size_class", Err: err}
	}
	if !c.Renderer.IntensityCap.IsPositive() {
		return &domain.ConfigError{Field: "renderer.intensity_cap", Err: errors.New("must be positive")}
	}

	return nil
}

// overrideWithEnv overwrites settings from ORDERFLOW_* environment variables when set.
func overrideWithEnv(cfg *Config) {
	setStr(&cfg.Feed.WSURL, "ORDERFLOW_FEED_WS_URL")
	setStr(&cfg.Feed.AuthToken, "ORDERFLOW_FEED_TOKEN")
	setStr(&cfg.Session.Instrument, "ORDERFLOW_INSTRUMENT")
	setStr(&cfg.Renderer.Palette, "ORDERFLOW_PALETTE")
	setStr(&cfg.Renderer.OutputDir, "ORDERFLOW_OUTPUT_DIR")
	setStr(&cfg.Storage.Path, "ORDERFLOW_DB_PATH")
	setStr(&cfg.Status.RedisAddr, "ORDERFLOW_REDIS_ADDR")
	setStr(&cfg.Status.RedisPassword, "ORDERFLOW_REDIS_PASSWORD")
	setStr(&cfg.Logging.Level, "ORDERFLOW_LOG_LEVEL")
	setInt(&cfg.Renderer.FPS, "ORDERFLOW_FPS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
