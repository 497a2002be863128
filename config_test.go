package a2a

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_DefaultsAndOptions(t *testing.T) {
	cfg, err := Load(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8010" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RuntimeMode != RuntimeAuto {
		t.Errorf("RuntimeMode = %q", cfg.RuntimeMode)
	}
	if !cfg.RuntimeFailover {
		t.Error("RuntimeFailover should default to true")
	}
	if cfg.MinTurns != 8 || cfg.MaxTurns != 30 {
		t.Errorf("turn budgets = %d/%d", cfg.MinTurns, cfg.MaxTurns)
	}
	if cfg.MaxTimeout != 65*time.Second {
		t.Errorf("MaxTimeout = %v", cfg.MaxTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second || cfg.MaxCallDuration != 5*time.Minute {
		t.Errorf("monitor budgets = %v/%v", cfg.IdleTimeout, cfg.MaxCallDuration)
	}
}

func TestLoad_OptionOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithConfigDir(dir),
		WithListenAddr("0.0.0.0:9999"),
		WithRuntimeMode(RuntimeGeneric),
		WithIdleTimeout(30*time.Second),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9999" || cfg.RuntimeMode != RuntimeGeneric {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.TokenFile() != dir+"/tokens.json" {
		t.Errorf("TokenFile() = %q", cfg.TokenFile())
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			ListenAddr:    "127.0.0.1:8010",
			RuntimeMode:   RuntimeAuto,
			MinTurns:      8,
			MaxTurns:      30,
			MaxTimeout:    time.Minute,
			CheckInterval: 10 * time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown runtime mode", func(c *Config) { c.RuntimeMode = "quantum" }},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"zero min turns", func(c *Config) { c.MinTurns = 0 }},
		{"zero max turns", func(c *Config) { c.MaxTurns = 0 }},
		{"zero max timeout", func(c *Config) { c.MaxTimeout = 0 }},
		{"zero check interval", func(c *Config) { c.CheckInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
