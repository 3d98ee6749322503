package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cointoss/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the application.
// After LoadConfig parses the file, secrets are overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		// Mode selects the venue: "paper" or "bitget".
		Mode string `yaml:"mode"`
		// StartDays is how many cached days the timeline replays before going live.
		StartDays int `yaml:"start_days"`
		DumpPath  string `yaml:"dump_path"`
	} `yaml:"app"`

	API struct {
		Bitget struct {
			WSURL string `yaml:"ws_url"`
			// PublicWSURL carries the market trade feed used for mark prices.
			PublicWSURL string `yaml:"public_ws_url"`
			RestURL     string `yaml:"rest_url"`
			AccessKey   string `yaml:"access_key"`
			SecretKey   string `yaml:"secret_key"`
			Passphrase  string `yaml:"passphrase"`
			Symbol      string `yaml:"symbol"`
		} `yaml:"bitget"`
	} `yaml:"api"`

	Engine struct {
		PlacementAttempts   int `yaml:"placement_attempts"`
		PlacementIntervalMS int `yaml:"placement_interval_ms"`
		BackfillIntervalMS  int `yaml:"backfill_interval_ms"`
		BackfillPageSize    int `yaml:"backfill_page_size"`
		WindowCapacity      int `yaml:"window_capacity"`
		TimelineBuffer      int `yaml:"timeline_buffer"`
	} `yaml:"engine"`

	Paper struct {
		StartPrice string `yaml:"start_price"`
		TickSize   string `yaml:"tick_size"`
		TradeSize  string `yaml:"trade_size"`
		IntervalMS int    `yaml:"interval_ms"`
		LatencyMS  int    `yaml:"latency_ms"`
		Seed       uint64 `yaml:"seed"`
		// TakerDepth caps what one taker order can fill; the rest expires. Empty means no cap.
		TakerDepth string `yaml:"taker_depth"`
	} `yaml:"paper"`

	Strategy struct {
		Enabled     bool   `yaml:"enabled"`
		ShortPeriod int    `yaml:"short_period"`
		LongPeriod  int    `yaml:"long_period"`
		Size        string `yaml:"size"`
		Backlog     int    `yaml:"backlog"`
	} `yaml:"strategy"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Status struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"status"`

	Profiling struct {
		// PprofAddr serves net/http/pprof; empty disables it.
		PprofAddr string `yaml:"pprof_addr"`
		// PyroscopeURL enables continuous profiling to a Pyroscope server.
		PyroscopeURL string `yaml:"pyroscope_url"`
	} `yaml:"profiling"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when the file leaves a value out.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "cointoss"
	cfg.App.Mode = "paper"
	cfg.App.StartDays = 1
	cfg.App.DumpPath = "panic_dump.json"
	cfg.Engine.PlacementAttempts = 40
	cfg.Engine.PlacementIntervalMS = 100
	cfg.Engine.BackfillIntervalMS = 200
	cfg.Engine.BackfillPageSize = 500
	cfg.Engine.WindowCapacity = 4096
	cfg.Engine.TimelineBuffer = 1024
	cfg.Paper.StartPrice = "65000"
	cfg.Paper.TickSize = "0.5"
	cfg.Paper.TradeSize = "0.01"
	cfg.Paper.IntervalMS = 250
	cfg.Paper.LatencyMS = 50
	cfg.Paper.Seed = 1
	cfg.Strategy.ShortPeriod = 20
	cfg.Strategy.LongPeriod = 50
	cfg.Strategy.Size = "0.01"
	cfg.Strategy.Backlog = 16
	cfg.Profiling.PprofAddr = "localhost:6060"
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/app.log"
	return &cfg
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)}
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.App.Mode {
	case "paper":
		for field, v := range map[string]string{
			"paper.start_price": c.Paper.StartPrice,
			"paper.tick_size":   c.Paper.TickSize,
			"paper.trade_size":  c.Paper.TradeSize,
		} {
			if err := positiveDecimal(v); err != nil {
				return &domain.ConfigError{Field: field, Err: err}
			}
		}
		if c.Paper.IntervalMS <= 0 {
			return &domain.ConfigError{Field: "paper.interval_ms", Err: errors.New("must be positive")}
		}
		if c.Paper.TakerDepth != "" {
			if err := positiveDecimal(c.Paper.TakerDepth); err != nil {
				return &domain.ConfigError{Field: "paper.taker_depth", Err: err}
			}
		}
	case "bitget":
		if !hasPrefix(c.API.Bitget.WSURL, "ws://") && !hasPrefix(c.API.Bitget.WSURL, "wss://") {
			return &domain.ConfigError{Field: "api.bitget.ws_url", Err: fmt.Errorf("invalid websocket url %q", c.API.Bitget.WSURL)}
		}
		if u := c.API.Bitget.PublicWSURL; u != "" && !hasPrefix(u, "ws://") && !hasPrefix(u, "wss://") {
			return &domain.ConfigError{Field: "api.bitget.public_ws_url", Err: fmt.Errorf("invalid websocket url %q", u)}
		}
		if !hasPrefix(c.API.Bitget.RestURL, "http://") && !hasPrefix(c.API.Bitget.RestURL, "https://") {
			return &domain.ConfigError{Field: "api.bitget.rest_url", Err: fmt.Errorf("invalid rest url %q", c.API.Bitget.RestURL)}
		}
		if c.API.Bitget.Symbol == "" {
			return &domain.ConfigError{Field: "api.bitget.symbol", Err: domain.ErrInvalidSymbol}
		}
	default:
		return &domain.ConfigError{Field: "app.mode", Err: fmt.Errorf("unknown mode %q", c.App.Mode)}
	}

	if c.Engine.PlacementAttempts <= 0 {
		return &domain.ConfigError{Field: "engine.placement_attempts", Err: errors.New("must be positive")}
	}
	if c.Engine.PlacementIntervalMS < 0 || c.Engine.BackfillIntervalMS <= 0 {
		return &domain.ConfigError{Field: "engine", Err: errors.New("intervals must be positive")}
	}
	if c.Engine.BackfillPageSize <= 0 || c.Engine.WindowCapacity <= 0 {
		return &domain.ConfigError{Field: "engine", Err: errors.New("sizes must be positive")}
	}
	if c.Strategy.Enabled {
		if c.Strategy.ShortPeriod <= 0 || c.Strategy.ShortPeriod >= c.Strategy.LongPeriod {
			return &domain.ConfigError{Field: "strategy", Err: errors.New("need 0 < short_period < long_period")}
		}
		if err := positiveDecimal(c.Strategy.Size); err != nil {
			return &domain.ConfigError{Field: "strategy.size", Err: err}
		}
	}
	if c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required")}
	}
	if u := c.Profiling.PyroscopeURL; u != "" && !hasPrefix(u, "http://") && !hasPrefix(u, "https://") {
		return &domain.ConfigError{Field: "profiling.pyroscope_url", Err: fmt.Errorf("invalid url %q", u)}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return &domain.ConfigError{Field: "kafka.topic", Err: errors.New("required when brokers are set")}
	}
	return nil
}

// PlacementInterval is the spacing between placement attempts.
func (c *Config) PlacementInterval() time.Duration {
	return time.Duration(c.Engine.PlacementIntervalMS) * time.Millisecond
}

// BackfillInterval is the pacing between backfill pages.
func (c *Config) BackfillInterval() time.Duration {
	return time.Duration(c.Engine.BackfillIntervalMS) * time.Millisecond
}

// TapeInterval is the spacing between paper market trades.
func (c *Config) TapeInterval() time.Duration {
	return time.Duration(c.Paper.IntervalMS) * time.Millisecond
}

// PaperLatency is the simulated venue response time.
func (c *Config) PaperLatency() time.Duration {
	return time.Duration(c.Paper.LatencyMS) * time.Millisecond
}

func positiveDecimal(s string) error {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	if !v.IsPositive() {
		return fmt.Errorf("%s must be positive", s)
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv replaces secrets and endpoints with environment values when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("COINTOSS_BITGET_KEY"); key != "" {
		cfg.API.Bitget.AccessKey = key
	}
	if secret := os.Getenv("COINTOSS_BITGET_SECRET"); secret != "" {
		cfg.API.Bitget.SecretKey = secret
	}
	if pass := os.Getenv("COINTOSS_BITGET_PASSPHRASE"); pass != "" {
		cfg.API.Bitget.Passphrase = pass
	}
	if brokers := os.Getenv("COINTOSS_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if mode := os.Getenv("COINTOSS_MODE"); mode != "" {
		cfg.App.Mode = mode
	}
}
