// Package config loads the daemon configuration from
// ~/.calmplan/config.yaml, .env files and CALMPLAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/telemetry"
)

// ErrInvalid wraps parse and validation failures.
var ErrInvalid = errors.New("invalid config")

// Config is the complete daemon configuration.
type Config struct {
	Daemon    DaemonConfig     `yaml:"daemon"`
	Log       LogConfig        `yaml:"log"`
	Backup    BackupConfig     `yaml:"backup"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Notify    NotifyConfig     `yaml:"notify"`
}

// DaemonConfig locates the API listener and data files.
type DaemonConfig struct {
	Listen string `yaml:"listen"`
	// DataDir holds the database, state store and snapshots.
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// BackupConfig combines the monitor thresholds and the cloud target.
type BackupConfig struct {
	backup.Config `yaml:",inline"`
	// AutoBackup, when set, overrides the persisted auto-backup flag.
	AutoBackup *bool            `yaml:"auto_backup,omitempty"`
	GCS        backup.GCSConfig `yaml:"gcs"`
}

// NotifyConfig tunes change notifications.
type NotifyConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultDir returns ~/.calmplan, or .calmplan when the home directory is
// unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calmplan"
	}
	return filepath.Join(home, ".calmplan")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := DefaultDir()
	bc := backup.DefaultConfig()
	bc.SnapshotDir = filepath.Join(dir, "snapshots")

	return Config{
		Daemon: DaemonConfig{
			Listen:  "127.0.0.1:7466",
			DataDir: dir,
			DBPath:  filepath.Join(dir, "calmplan.db"),
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Backup:    BackupConfig{Config: bc, GCS: backup.GCSConfig{Prefix: "calmplan"}},
		Telemetry: telemetry.Config{ServiceName: "calmplan"},
		Notify:    NotifyConfig{Debounce: 500 * time.Millisecond},
	}
}

// StatePath is the Badger directory for durable local state.
func (c Config) StatePath() string {
	return filepath.Join(c.Daemon.DataDir, "state")
}

// Validate checks values the daemon cannot run without.
func (c Config) Validate() error {
	if c.Daemon.Listen == "" {
		return fmt.Errorf("%w: daemon.listen is required", ErrInvalid)
	}
	if c.Daemon.DBPath == "" {
		return fmt.Errorf("%w: daemon.db_path is required", ErrInvalid)
	}
	b := c.Backup.Config
	if b.WorkHoursStart < 0 || b.WorkHoursEnd > 24 || b.WorkHoursStart >= b.WorkHoursEnd {
		return fmt.Errorf("%w: backup work hours %d-%d", ErrInvalid, b.WorkHoursStart, b.WorkHoursEnd)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// LoadResult reports what Load found.
type LoadResult struct {
	Config     Config
	Found      bool
	Path       string
	ParseError error
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; a broken one leaves the defaults in place
// and sets ParseError.
func Load(path string) LoadResult {
	if path == "" {
		path = DefaultPath()
	}
	res := LoadResult{Config: Default(), Path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		res.ParseError = err
	default:
		res.Found = true
		cfg := Default()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
		} else if err := cfg.Validate(); err != nil {
			res.ParseError = err
		} else {
			res.Config = cfg
		}
	}

	applyEnv(&res.Config)
	return res
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env", filepath.Join(DefaultDir(), ".env")}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("CALMPLAN_LISTEN"); v != "" {
		c.Daemon.Listen = v
	}
	if v := os.Getenv("CALMPLAN_DATA_DIR"); v != "" {
		c.Daemon.DataDir = v
	}
	if v := os.Getenv("CALMPLAN_DB"); v != "" {
		c.Daemon.DBPath = v
	}
	if v := os.Getenv("CALMPLAN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CALMPLAN_GCS_BUCKET"); v != "" {
		c.Backup.GCS.Bucket = v
	}
	if v := os.Getenv("CALMPLAN_GCS_CREDENTIALS"); v != "" {
		c.Backup.GCS.CredentialsFile = v
	}
	if v := os.Getenv("CALMPLAN_AUTO_BACKUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backup.AutoBackup = &b
		}
	}
	if v := os.Getenv("CALMPLAN_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.Enabled = true
	}
}
