package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Model.Timeout != 60*time.Second || cfg.Signals.Timeout != 60*time.Second {
		t.Errorf("unexpected timeouts: %v %v", cfg.Model.Timeout, cfg.Signals.Timeout)
	}
	if cfg.Signals.PriceFeature != "price" {
		t.Errorf("unexpected price feature %q", cfg.Signals.PriceFeature)
	}
	sim := cfg.Simulation
	if !sim.BonusOnExchange || sim.ExchangeBonus != 0.05 || sim.RewardScale != 100 || !sim.SessionReuse {
		t.Errorf("unexpected simulation defaults: %+v", sim)
	}
	if sim.MaxRepeat != 50 {
		t.Errorf("expected max_repeat 50, got %d", sim.MaxRepeat)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BACKTEST_SIMULATION_FEE_RATE", "0.001")
	t.Setenv("BACKTEST_MODEL_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Simulation.FeeRate != 0.001 {
		t.Errorf("expected fee rate from env, got %v", cfg.Simulation.FeeRate)
	}
	if cfg.Model.Timeout != 5*time.Second {
		t.Errorf("expected model timeout from env, got %v", cfg.Model.Timeout)
	}
}

func TestLoad_ValidationAggregatesErrors(t *testing.T) {
	body := "simulation:\n  fee_rate: 1.5\n  reward_scale: -1\nserver:\n  port: 70000\n"
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, key := range []string{"simulation.fee_rate", "simulation.reward_scale", "server.port"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_WithoutDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKTEST_SERVER_PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port from env, got %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "data" {
		t.Errorf("unexpected data dir %q", cfg.Storage.DataDir)
	}
}
