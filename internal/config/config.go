// Package config provides centralized configuration management.
// Defaults live here; a TOML file and then the environment override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// WORLD CONFIGURATION
// =============================================================================

// WorldConfig holds the playfield and population settings.
type WorldConfig struct {
	Width        float64       `toml:"width"`
	Height       float64       `toml:"height"`
	MinFood      int           `toml:"min_food"`
	MinViruses   int           `toml:"min_viruses"`
	TickInterval time.Duration `toml:"tick_interval"`
	MaxDelta     float64       `toml:"max_delta"` // upper clamp on the per-tick delta-time fraction
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Width:        500,
		Height:       500,
		MinFood:      2048,
		MinViruses:   32,
		TickInterval: 25 * time.Millisecond, // 40 TPS
		MaxDelta:     4,
	}
}

// WorldFromEnv applies environment overrides to cfg.
func WorldFromEnv(cfg WorldConfig) WorldConfig {
	if w := getEnvFloat("WORLD_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvFloat("WORLD_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if n := getEnvInt("WORLD_MIN_FOOD", -1); n >= 0 {
		cfg.MinFood = n
	}
	if n := getEnvInt("WORLD_MIN_VIRUSES", -1); n >= 0 {
		cfg.MinViruses = n
	}
	if ms := getEnvInt("TICK_INTERVAL_MS", 0); ms > 0 {
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// =============================================================================
// ARENA PARTITIONS
// =============================================================================

// Partition sizes one arena category.
type Partition struct {
	Count int `toml:"count"`
	Size  int `toml:"size"` // bytes per slot
}

// PartitionConfig sizes every arena category.
type PartitionConfig struct {
	Player Partition `toml:"player"`
	Virus  Partition `toml:"virus"`
	Food   Partition `toml:"food"`
	Mass   Partition `toml:"mass"`
	User   Partition `toml:"user"`
}

// DefaultPartitions returns the default arena layout.
func DefaultPartitions() PartitionConfig {
	return PartitionConfig{
		Player: Partition{Count: 4096, Size: 40},
		Virus:  Partition{Count: 64, Size: 32},
		Food:   Partition{Count: 2560, Size: 24},
		Mass:   Partition{Count: 512, Size: 32},
		User:   Partition{Count: 256, Size: 32},
	}
}

// =============================================================================
// GAME RULES
// =============================================================================

// RulesConfig holds the tunable game rules.
type RulesConfig struct {
	EatThreshold    float64 `toml:"eat_threshold"` // overlap fraction of the smaller mass
	MergeRatio      float64 `toml:"merge_ratio"`   // larger must exceed smaller*ratio to eat
	SplitCeiling    float64 `toml:"split_ceiling"`
	MassFloor       float64 `toml:"mass_floor"`
	MaxSiblings     int     `toml:"max_siblings"`
	MinSplitMass    float64 `toml:"min_split_mass"`
	PlayerStartMass float64 `toml:"player_start_mass"`
	FoodMass        float64 `toml:"food_mass"`
	VirusMass       float64 `toml:"virus_mass"`
	EjectedMass     float64 `toml:"ejected_mass"`
	EjectCost       float64 `toml:"eject_cost"`
	MassDecay       float64 `toml:"mass_decay"` // per nominal tick
	PlayerDrag      float64 `toml:"player_drag"`
	MassDrag        float64 `toml:"mass_drag"`
	SplitSpeed      float64 `toml:"split_speed"`
	VirusRecoil     float64 `toml:"virus_recoil"` // parent share of the virus burst impulse
}

// DefaultRules returns the default game rules.
func DefaultRules() RulesConfig {
	return RulesConfig{
		EatThreshold:    0.75,
		MergeRatio:      1.1,
		SplitCeiling:    11250,
		MassFloor:       10,
		MaxSiblings:     16,
		MinSplitMass:    35,
		PlayerStartMass: 25,
		FoodMass:        1,
		VirusMass:       100,
		EjectedMass:     12,
		EjectCost:       16,
		MassDecay:       0.9998,
		PlayerDrag:      0.85,
		MassDrag:        0.9,
		SplitSpeed:      1,
		VirusRecoil:     1.0 / 6,
	}
}

// =============================================================================
// COLLISION FILTER
// =============================================================================

// CollisionConfig lists category pairs that never reach classification.
type CollisionConfig struct {
	Exclude [][2]string `toml:"exclude"`
}

// DefaultCollision returns the default exclusion table.
func DefaultCollision() CollisionConfig {
	return CollisionConfig{
		Exclude: [][2]string{
			{"food", "food"},
			{"virus", "food"},
			{"virus", "virus"},
		},
	}
}

// =============================================================================
// WORKER POOL
// =============================================================================

// WorkerConfig sizes the simulation worker pool.
type WorkerConfig struct {
	Count       int           `toml:"count"` // 0 = half the available CPUs
	TaskTimeout time.Duration `toml:"task_timeout"`
	LockTimeout time.Duration `toml:"lock_timeout"` // coordinator wait on a slot lock
}

// DefaultWorkers returns the default worker pool configuration.
func DefaultWorkers() WorkerConfig {
	return WorkerConfig{
		Count:       0,
		TaskTimeout: 2 * time.Second,
		LockTimeout: 10 * time.Millisecond,
	}
}

// WorkerCount resolves Count, falling back to ceil(GOMAXPROCS/2).
func (w WorkerConfig) WorkerCount() int {
	if w.Count > 0 {
		return w.Count
	}
	return (runtime.GOMAXPROCS(0) + 1) / 2
}

// WorkersFromEnv applies environment overrides to cfg.
func WorkersFromEnv(cfg WorkerConfig) WorkerConfig {
	if n := getEnvInt("WORKERS", 0); n > 0 {
		cfg.Count = n
	}
	if ms := getEnvInt("WORKER_TASK_TIMEOUT_MS", 0); ms > 0 {
		cfg.TaskTimeout = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr             string   `toml:"addr"`
	DebugAddr        string   `toml:"debug_addr"`
	DebugEnabled     bool     `toml:"debug_enabled"`
	CORSOrigins      []string `toml:"cors_origins"`
	RequestsPerSec   float64  `toml:"requests_per_second"`
	RequestBurst     int      `toml:"request_burst"`
	MaxWSPerIP       int      `toml:"max_ws_per_ip"`
	ActionsPerSecond float64  `toml:"actions_per_second"`
	ActionBurst      int      `toml:"action_burst"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Addr:             ":3000",
		DebugAddr:        "127.0.0.1:6060",
		DebugEnabled:     true,
		CORSOrigins:      []string{"*"},
		RequestsPerSec:   10,
		RequestBurst:     20,
		MaxWSPerIP:       4,
		ActionsPerSecond: 60,
		ActionBurst:      30,
	}
}

// ServerFromEnv applies environment overrides to cfg.
func ServerFromEnv(cfg ServerConfig) ServerConfig {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Addr = ":" + strconv.Itoa(p)
	}
	if a := os.Getenv("DEBUG_ADDR"); a != "" {
		cfg.DebugAddr = a
	}
	if os.Getenv("DEBUG_ENABLED") == "false" {
		cfg.DebugEnabled = false
	}
	if o := os.Getenv("CORS_ORIGINS"); o != "" {
		cfg.CORSOrigins = strings.Split(o, ",")
	}
	return cfg
}

// =============================================================================
// JOURNAL
// =============================================================================

// JournalConfig controls the world event journal.
type JournalConfig struct {
	Path            string `toml:"path"` // empty keeps counts only
	EventsPerSecond int    `toml:"events_per_second"`
}

// =============================================================================
// LOGGING
// =============================================================================

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// Config holds the complete application configuration.
type Config struct {
	World      WorldConfig     `toml:"world"`
	Partitions PartitionConfig `toml:"partitions"`
	Rules      RulesConfig     `toml:"rules"`
	Collision  CollisionConfig `toml:"collision"`
	Workers    WorkerConfig    `toml:"workers"`
	Server     ServerConfig    `toml:"server"`
	Journal    JournalConfig   `toml:"journal"`
	Logging    LoggingConfig   `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		World:      DefaultWorld(),
		Partitions: DefaultPartitions(),
		Rules:      DefaultRules(),
		Collision:  DefaultCollision(),
		Workers:    DefaultWorkers(),
		Server:     DefaultServer(),
		Journal:    JournalConfig{EventsPerSecond: 1000},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.World = WorldFromEnv(cfg.World)
	cfg.Workers = WorkersFromEnv(cfg.Workers)
	cfg.Server = ServerFromEnv(cfg.Server)
	if p := os.Getenv("JOURNAL_PATH"); p != "" {
		cfg.Journal.Path = p
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		cfg.Logging.Format = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	// SiblingLimit bounds the player cells one user may own.
	SiblingLimit = 16

	// MaxUsers is the range of the 16-bit owner index in a player record.
	MaxUsers = 1 << 16
)

// Validate rejects configurations the simulation cannot run with.
func (c *Config) Validate() error {
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("world size must be positive, got %vx%v", c.World.Width, c.World.Height)
	}
	if c.World.TickInterval <= 0 {
		return errors.New("world tick_interval must be positive")
	}
	if c.Workers.TaskTimeout <= 0 || c.Workers.LockTimeout <= 0 {
		return errors.New("workers task_timeout and lock_timeout must be positive")
	}
	if c.World.MinFood > c.Partitions.Food.Count {
		return fmt.Errorf("min_food %d exceeds food capacity %d", c.World.MinFood, c.Partitions.Food.Count)
	}
	if c.World.MinViruses > c.Partitions.Virus.Count {
		return fmt.Errorf("min_viruses %d exceeds virus capacity %d", c.World.MinViruses, c.Partitions.Virus.Count)
	}
	if c.Rules.MaxSiblings < 1 || c.Rules.MaxSiblings > SiblingLimit {
		return fmt.Errorf("rules max_siblings must be in [1,%d], got %d", SiblingLimit, c.Rules.MaxSiblings)
	}
	if c.Partitions.User.Count > MaxUsers {
		return fmt.Errorf("partitions user count %d exceeds the owner index range %d", c.Partitions.User.Count, MaxUsers)
	}
	if c.Rules.VirusRecoil < 0 || c.Rules.VirusRecoil > 1 {
		return fmt.Errorf("rules virus_recoil must be in [0,1], got %v", c.Rules.VirusRecoil)
	}
	if c.Rules.EatThreshold <= 0 || c.Rules.EatThreshold > 1 {
		return fmt.Errorf("rules eat_threshold must be in (0,1], got %v", c.Rules.EatThreshold)
	}
	if c.Rules.MassFloor <= 0 {
		return errors.New("rules mass_floor must be positive")
	}
	for _, pair := range c.Collision.Exclude {
		for _, name := range pair {
			switch name {
			case "player", "virus", "food", "mass":
			default:
				return fmt.Errorf("collision exclude: unknown category %q", name)
			}
		}
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
