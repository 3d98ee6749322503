package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cointoss/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
app:
  mode: paper
storage:
  path: data/test.db
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine.PlacementAttempts != 40 {
		t.Errorf("Expected 40 placement attempts, got %d", cfg.Engine.PlacementAttempts)
	}
	if cfg.PlacementInterval() != 100*time.Millisecond {
		t.Errorf("Expected 100ms spacing, got %s", cfg.PlacementInterval())
	}
	if cfg.BackfillInterval() != 200*time.Millisecond {
		t.Errorf("Expected 200ms pacing, got %s", cfg.BackfillInterval())
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COINTOSS_BITGET_SECRET", "from-env")
	path := writeConfig(t, `
app:
  mode: bitget
api:
  bitget:
    ws_url: wss://example.test/ws
    rest_url: https://example.test
    symbol: BTCUSDT
    secret_key: from-file
storage:
  path: data/test.db
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.API.Bitget.SecretKey != "from-env" {
		t.Errorf("Expected env secret, got %q", cfg.API.Bitget.SecretKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown mode", func(c *Config) { c.App.Mode = "live" }, "app.mode"},
		{"bitget without ws url", func(c *Config) { c.App.Mode = "bitget" }, "api.bitget.ws_url"},
		{"bitget public feed over http", func(c *Config) {
			c.App.Mode = "bitget"
			c.API.Bitget.WSURL = "wss://example.test/ws"
			c.API.Bitget.PublicWSURL = "https://example.test/public"
		}, "api.bitget.public_ws_url"},
		{"zero attempts", func(c *Config) { c.Engine.PlacementAttempts = 0 }, "engine.placement_attempts"},
		{"no storage", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"zero tick", func(c *Config) { c.Paper.TickSize = "0" }, "paper.tick_size"},
		{"bad start price", func(c *Config) { c.Paper.StartPrice = "abc" }, "paper.start_price"},
		{"negative taker depth", func(c *Config) { c.Paper.TakerDepth = "-0.5" }, "paper.taker_depth"},
		{"inverted periods", func(c *Config) {
			c.Strategy.Enabled = true
			c.Strategy.ShortPeriod = 50
		}, "strategy"},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"} }, "kafka.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.Path = "data/test.db"
			tt.mutate(cfg)

			err := cfg.Validate()
			var cerr *domain.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cerr.Field)
			}
		})
	}
}
