// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/callrank/callrank/internal/backfill"
	"github.com/callrank/callrank/internal/oracle"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/roi"
)

// Paths locates the JSON stores and report sinks on disk.
type Paths struct {
	DataDir            string `yaml:"data_dir"`
	ActiveSignals      string `yaml:"active_signals"`
	CompletedSignals   string `yaml:"completed_signals"`
	Reputation         string `yaml:"reputation"`
	Learning           string `yaml:"learning"`
	BootstrapProgress  string `yaml:"bootstrap_progress"`
	PerformanceCSV     string `yaml:"performance_csv"`
	MessageLog         string `yaml:"message_log"`
	ReputationSnapshot string `yaml:"reputation_snapshot"`
}

// Redis configures the optional price cache.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Postgres configures the optional archival sink.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Learning configures the TD learner.
type Learning struct {
	Alpha float64 `yaml:"alpha"`
}

// Config is the full runtime configuration.
type Config struct {
	LogLevel     string        `yaml:"log_level"`
	HTTPAddr     string        `yaml:"http_addr"`
	MentionFeed  string        `yaml:"mention_feed"`
	PriceAPI     string        `yaml:"price_api"`
	PollSchedule string        `yaml:"poll_schedule"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`

	Paths      Paths                   `yaml:"paths"`
	Redis      Redis                   `yaml:"redis"`
	Postgres   Postgres                `yaml:"postgres"`
	ROI        *roi.Config             `yaml:"roi"`
	Reputation *reputation.Config      `yaml:"reputation"`
	Learning   Learning                `yaml:"learning"`
	Backfill   *backfill.Config        `yaml:"backfill"`
	Oracle     *oracle.ResilientConfig `yaml:"oracle"`
	Cache      *oracle.CacheConfig     `yaml:"cache"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	dataDir := "data"
	return &Config{
		LogLevel:     "info",
		HTTPAddr:     ":8087",
		MentionFeed:  "",
		PollSchedule: "@every 5m",
		PollTimeout:  2 * time.Minute,
		Paths: Paths{
			DataDir:            dataDir,
			ActiveSignals:      filepath.Join(dataDir, "active_signals.json"),
			CompletedSignals:   filepath.Join(dataDir, "completed_signals.json"),
			Reputation:         filepath.Join(dataDir, "channel_reputation.json"),
			Learning:           filepath.Join(dataDir, "learning_state.json"),
			BootstrapProgress:  filepath.Join(dataDir, "bootstrap_progress.json"),
			PerformanceCSV:     filepath.Join(dataDir, "performance.csv"),
			MessageLog:         filepath.Join(dataDir, "messages.jsonl"),
			ReputationSnapshot: filepath.Join(dataDir, "reputation_snapshot.json"),
		},
		ROI:        roi.DefaultConfig(),
		Reputation: reputation.DefaultConfig(),
		Learning:   Learning{Alpha: 0.1},
		Backfill:   backfill.DefaultConfig(),
		Oracle:     oracle.DefaultResilientConfig(),
		Cache:      oracle.DefaultCacheConfig(),
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Learning.Alpha <= 0 || c.Learning.Alpha >= 1 {
		return fmt.Errorf("learning.alpha must be in (0,1), got %v", c.Learning.Alpha)
	}
	if c.Backfill != nil && c.Backfill.CheckpointEvery < 0 {
		return fmt.Errorf("backfill.checkpoint_every must be >= 0")
	}
	if c.ROI != nil && c.ROI.CrashDropFraction <= 0 {
		return fmt.Errorf("roi.crash_drop_fraction must be positive")
	}
	return nil
}
