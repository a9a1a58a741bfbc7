package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 500 || cfg.World.MinFood != 2048 {
		t.Errorf("unexpected world defaults %+v", cfg.World)
	}
	if cfg.Partitions.Player.Count != 4096 || cfg.Partitions.User.Count != 256 {
		t.Errorf("unexpected partitions %+v", cfg.Partitions)
	}
	if cfg.Rules.EatThreshold != 0.75 || cfg.Rules.MaxSiblings != 16 {
		t.Errorf("unexpected rules %+v", cfg.Rules)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.TickInterval != 25*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.World.TickInterval)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[world]
width = 1000.0
height = 800.0
tick_interval = "50ms"

[rules]
merge_ratio = 1.25

[collision]
exclude = [["food", "food"]]

[workers]
count = 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 1000 || cfg.World.Height != 800 {
		t.Errorf("world size %vx%v", cfg.World.Width, cfg.World.Height)
	}
	if cfg.World.TickInterval != 50*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.World.TickInterval)
	}
	if cfg.World.MinFood != 2048 {
		t.Errorf("unset keys keep defaults, MinFood = %d", cfg.World.MinFood)
	}
	if cfg.Rules.MergeRatio != 1.25 || cfg.Rules.EatThreshold != 0.75 {
		t.Errorf("rules %+v", cfg.Rules)
	}
	if len(cfg.Collision.Exclude) != 1 {
		t.Errorf("exclude = %v", cfg.Collision.Exclude)
	}
	if cfg.Workers.WorkerCount() != 3 {
		t.Errorf("WorkerCount = %d", cfg.Workers.WorkerCount())
	}
}

func TestLoadBadFile(t *testing.T) {
	path := writeFile(t, "[world\nwidth = ")
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "[world]\nwidth = 1000.0\n")
	t.Setenv("WORLD_WIDTH", "1200")
	t.Setenv("TICK_INTERVAL_MS", "40")
	t.Setenv("PORT", "8080")
	t.Setenv("WORKERS", "5")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 1200 {
		t.Errorf("Width = %v, want env value", cfg.World.Width)
	}
	if cfg.World.TickInterval != 40*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.World.TickInterval)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Workers.Count != 5 {
		t.Errorf("Workers = %d", cfg.Workers.Count)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %q", cfg.Logging.Format)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("WORLD_WIDTH", "wide")
	t.Setenv("WORKERS", "-2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 500 || cfg.Workers.Count != 0 {
		t.Errorf("garbage env applied: width %v workers %d", cfg.World.Width, cfg.Workers.Count)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero width", func(c *Config) { c.World.Width = 0 }, "world size"},
		{"zero tick", func(c *Config) { c.World.TickInterval = 0 }, "tick_interval"},
		{"zero lock timeout", func(c *Config) { c.Workers.LockTimeout = 0 }, "lock_timeout"},
		{"food over capacity", func(c *Config) { c.World.MinFood = c.Partitions.Food.Count + 1 }, "min_food"},
		{"viruses over capacity", func(c *Config) { c.World.MinViruses = c.Partitions.Virus.Count + 1 }, "min_viruses"},
		{"no siblings", func(c *Config) { c.Rules.MaxSiblings = 0 }, "max_siblings"},
		{"siblings over limit", func(c *Config) { c.Rules.MaxSiblings = SiblingLimit + 1 }, "max_siblings"},
		{"siblings at limit", func(c *Config) { c.Rules.MaxSiblings = SiblingLimit }, ""},
		{"users past owner index", func(c *Config) { c.Partitions.User.Count = MaxUsers + 1 }, "user count"},
		{"users at owner index", func(c *Config) { c.Partitions.User.Count = MaxUsers }, ""},
		{"negative recoil", func(c *Config) { c.Rules.VirusRecoil = -0.1 }, "virus_recoil"},
		{"threshold above one", func(c *Config) { c.Rules.EatThreshold = 1.5 }, "eat_threshold"},
		{"zero floor", func(c *Config) { c.Rules.MassFloor = 0 }, "mass_floor"},
		{"unknown category", func(c *Config) { c.Collision.Exclude = [][2]string{{"food", "ghost"}} }, "ghost"},
		{"user is not collidable", func(c *Config) { c.Collision.Exclude = [][2]string{{"user", "food"}} }, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWorkerCountFallback(t *testing.T) {
	if n := (WorkerConfig{}).WorkerCount(); n < 1 {
		t.Errorf("WorkerCount = %d, want at least 1", n)
	}
}
