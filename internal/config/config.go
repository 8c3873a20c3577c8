package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Storage    StorageConfig
	Refresh    RefreshConfig
	Provenance ProvenanceConfig
	Telemetry  TelemetryConfig
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type RefreshConfig struct {
	IntervalMinutes  int  `toml:"interval_minutes"`
	FreshnessSeconds int  `toml:"freshness_seconds"`
	BatchSize        int  `toml:"batch_size"`
	Watch            bool `toml:"watch"`
	JournalSize      int  `toml:"journal_size"`
}

type ProvenanceConfig struct {
	Enabled         bool     `toml:"enabled"`
	IntervalMinutes int      `toml:"interval_minutes"`
	LookbackDays    int      `toml:"lookback_days"`
	RetentionDays   int      `toml:"retention_days"`
	MaxCommits      int      `toml:"max_commits"`
	Folders         []string `toml:"folders"`
	Exclude         []string `toml:"exclude"`
}

type TelemetryConfig struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	Insecure        bool   `toml:"insecure"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

// DefaultConfig returns the configuration used when no file is present.
// Every field has a workable default; a user config only overrides the
// keys it names.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			DBPath: "~/.twcline/metrics.db",
		},
		Refresh: RefreshConfig{
			IntervalMinutes:  60,
			FreshnessSeconds: 5,
			BatchSize:        5,
			Watch:            true,
			JournalSize:      32,
		},
		Provenance: ProvenanceConfig{
			Enabled:         true,
			IntervalMinutes: 30,
			LookbackDays:    7,
			RetentionDays:   14,
			MaxCommits:      200,
			Exclude: []string{
				"**/node_modules/**",
				"**/.git/**",
				"**/dist/**",
				"**/build/**",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Insecure:        true,
			IntervalSeconds: 30,
		},
	}
}

// DefaultTOML is the config template written by `twcline-metrics init`.
// It round-trips to DefaultConfig.
const DefaultTOML = `[storage]
db_path = "~/.twcline/metrics.db"

[refresh]
interval_minutes = 60
freshness_seconds = 5
batch_size = 5
watch = true
journal_size = 32

[provenance]
enabled = true
interval_minutes = 30
lookback_days = 7
retention_days = 14
max_commits = 200
exclude = ["**/node_modules/**", "**/.git/**", "**/dist/**", "**/build/**"]
# folders = ["/path/to/workspace"]

[telemetry]
enabled = false
endpoint = "localhost:4317"
insecure = true
interval_seconds = 30
`

// DefaultConfigPath returns the path Load reads from.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".twcline", "config.toml")
}

func Load() (*LoadResult, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads the TOML config at path and merges it over defaults.
// A missing file yields the defaults with no error. Unknown keys are
// collected as warnings rather than rejected, so older binaries keep
// working against newer config files.
func LoadFrom(path string) (*LoadResult, error) {
	cfg := DefaultConfig()
	result := &LoadResult{Config: cfg}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := parseInto(result, string(data)); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadFromString parses config from a TOML string. Used by tests.
func LoadFromString(data string) (*LoadResult, error) {
	cfg := DefaultConfig()
	result := &LoadResult{Config: cfg}

	if data == "" {
		return result, nil
	}
	if err := parseInto(result, data); err != nil {
		return nil, err
	}
	return result, nil
}

func parseInto(result *LoadResult, data string) error {
	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	knownTopLevel := map[string]bool{
		"storage":    true,
		"refresh":    true,
		"provenance": true,
		"telemetry":  true,
	}
	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	mergeFromRaw(&result.Config, &tf, raw)

	return validate(&result.Config)
}

type tomlFile struct {
	Storage    *StorageConfig    `toml:"storage"`
	Refresh    *RefreshConfig    `toml:"refresh"`
	Provenance *ProvenanceConfig `toml:"provenance"`
	Telemetry  *TelemetryConfig  `toml:"telemetry"`
}

// mergeFromRaw copies only the keys actually present in the file onto
// the defaults. The raw map carries presence; the typed decode carries
// values. Zero values in the file (e.g. watch = false) must override
// defaults, which a plain struct decode cannot distinguish.
func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if tf.Storage != nil {
		if section, ok := rawSection(raw, "storage"); ok {
			if _, exists := section["db_path"]; exists {
				cfg.Storage.DBPath = tf.Storage.DBPath
			}
		}
	}
	if tf.Refresh != nil {
		if section, ok := rawSection(raw, "refresh"); ok {
			if _, exists := section["interval_minutes"]; exists {
				cfg.Refresh.IntervalMinutes = tf.Refresh.IntervalMinutes
			}
			if _, exists := section["freshness_seconds"]; exists {
				cfg.Refresh.FreshnessSeconds = tf.Refresh.FreshnessSeconds
			}
			if _, exists := section["batch_size"]; exists {
				cfg.Refresh.BatchSize = tf.Refresh.BatchSize
			}
			if _, exists := section["watch"]; exists {
				cfg.Refresh.Watch = tf.Refresh.Watch
			}
			if _, exists := section["journal_size"]; exists {
				cfg.Refresh.JournalSize = tf.Refresh.JournalSize
			}
		}
	}
	if tf.Provenance != nil {
		if section, ok := rawSection(raw, "provenance"); ok {
			if _, exists := section["enabled"]; exists {
				cfg.Provenance.Enabled = tf.Provenance.Enabled
			}
			if _, exists := section["interval_minutes"]; exists {
				cfg.Provenance.IntervalMinutes = tf.Provenance.IntervalMinutes
			}
			if _, exists := section["lookback_days"]; exists {
				cfg.Provenance.LookbackDays = tf.Provenance.LookbackDays
			}
			if _, exists := section["retention_days"]; exists {
				cfg.Provenance.RetentionDays = tf.Provenance.RetentionDays
			}
			if _, exists := section["max_commits"]; exists {
				cfg.Provenance.MaxCommits = tf.Provenance.MaxCommits
			}
			if _, exists := section["folders"]; exists {
				cfg.Provenance.Folders = tf.Provenance.Folders
			}
			if _, exists := section["exclude"]; exists {
				cfg.Provenance.Exclude = tf.Provenance.Exclude
			}
		}
	}
	if tf.Telemetry != nil {
		if section, ok := rawSection(raw, "telemetry"); ok {
			if _, exists := section["enabled"]; exists {
				cfg.Telemetry.Enabled = tf.Telemetry.Enabled
			}
			if _, exists := section["endpoint"]; exists {
				cfg.Telemetry.Endpoint = tf.Telemetry.Endpoint
			}
			if _, exists := section["insecure"]; exists {
				cfg.Telemetry.Insecure = tf.Telemetry.Insecure
			}
			if _, exists := section["interval_seconds"]; exists {
				cfg.Telemetry.IntervalSeconds = tf.Telemetry.IntervalSeconds
			}
		}
	}
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Refresh.IntervalMinutes < 1 {
		errs = append(errs, fmt.Sprintf("refresh interval_minutes must be positive, got %d", cfg.Refresh.IntervalMinutes))
	}
	if cfg.Refresh.FreshnessSeconds < 0 {
		errs = append(errs, fmt.Sprintf("refresh freshness_seconds must be non-negative, got %d", cfg.Refresh.FreshnessSeconds))
	}
	if cfg.Refresh.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("refresh batch_size must be positive, got %d", cfg.Refresh.BatchSize))
	}
	if cfg.Refresh.JournalSize < 1 {
		errs = append(errs, fmt.Sprintf("refresh journal_size must be positive, got %d", cfg.Refresh.JournalSize))
	}

	if cfg.Provenance.IntervalMinutes < 1 {
		errs = append(errs, fmt.Sprintf("provenance interval_minutes must be positive, got %d", cfg.Provenance.IntervalMinutes))
	}
	if cfg.Provenance.LookbackDays < 1 {
		errs = append(errs, fmt.Sprintf("provenance lookback_days must be positive, got %d", cfg.Provenance.LookbackDays))
	}
	if cfg.Provenance.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("provenance retention_days must be positive, got %d", cfg.Provenance.RetentionDays))
	}
	if cfg.Provenance.LookbackDays > cfg.Provenance.RetentionDays {
		errs = append(errs, fmt.Sprintf("provenance lookback_days (%d) must not exceed retention_days (%d)",
			cfg.Provenance.LookbackDays, cfg.Provenance.RetentionDays))
	}
	if cfg.Provenance.MaxCommits < 1 {
		errs = append(errs, fmt.Sprintf("provenance max_commits must be positive, got %d", cfg.Provenance.MaxCommits))
	}

	if cfg.Telemetry.Enabled {
		if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
			errs = append(errs, "telemetry endpoint must be set when telemetry is enabled")
		}
		if cfg.Telemetry.IntervalSeconds < 1 {
			errs = append(errs, fmt.Sprintf("telemetry interval_seconds must be positive, got %d", cfg.Telemetry.IntervalSeconds))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", strings.Join(errs, "; "))
	}
	return nil
}
