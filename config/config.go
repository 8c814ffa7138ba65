// Package config loads the coordinator's file configuration. A YAML file
// supplies the base values, DOCKET_* environment variables override them,
// and DocketConfig converts the result into a docket.Config.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/docket"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig enables the cross-process wake-up bridge when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

type QueueConfig struct {
	LeaseName         string        `yaml:"lease_name"`
	LeaseTTL          time.Duration `yaml:"lease_ttl"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ProcessTimeout    time.Duration `yaml:"process_timeout"`
}

// RetentionConfig controls purging of soft-deleted jobs.
type RetentionConfig struct {
	Days      int     `yaml:"days"`
	Schedule  string  `yaml:"schedule"`
	PurgeRate float64 `yaml:"purge_rate"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FileConfig is the on-disk configuration.
type FileConfig struct {
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Queue     QueueConfig     `yaml:"queue"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`

	// OutputSchema is the path of a JSON schema extraction output is
	// checked against.
	OutputSchema    string        `yaml:"output_schema"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a FileConfig carrying docket.DefaultConfig values, the
// memory store and text logging at info.
func Default() *FileConfig {
	d := docket.DefaultConfig()
	return &FileConfig{
		Store: StoreConfig{Driver: DriverMemory, Database: "docket"},
		Queue: QueueConfig{
			LeaseName:         d.LeaseName,
			LeaseTTL:          d.LeaseTTL,
			StaleAfter:        d.StaleAfter,
			ReconcileInterval: d.ReconcileInterval,
			PollInterval:      d.PollInterval,
			ProcessTimeout:    d.ProcessTimeout,
		},
		Retention: RetentionConfig{
			Days:      d.RetentionDays,
			Schedule:  d.RetentionSchedule,
			PurgeRate: d.PurgeRate,
		},
		Log:             LogConfig{Level: "info", Format: "text"},
		ShutdownTimeout: d.ShutdownTimeout,
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*FileConfig, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML from r over the current values. Unknown keys are
// rejected.
func (c *FileConfig) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from DOCKET_* variables found by lookup.
func (c *FileConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("DOCKET_STORE_DRIVER", &c.Store.Driver)
	str("DOCKET_STORE_URI", &c.Store.URI)
	str("DOCKET_STORE_DATABASE", &c.Store.Database)
	str("DOCKET_REDIS_URL", &c.Redis.URL)
	str("DOCKET_REDIS_CHANNEL", &c.Redis.Channel)
	str("DOCKET_ARTIFACTS_DIR", &c.Artifacts.Dir)
	str("DOCKET_LEASE_NAME", &c.Queue.LeaseName)
	str("DOCKET_RETENTION_SCHEDULE", &c.Retention.Schedule)
	str("DOCKET_LOG_LEVEL", &c.Log.Level)
	str("DOCKET_LOG_FORMAT", &c.Log.Format)
	str("DOCKET_OUTPUT_SCHEMA", &c.OutputSchema)

	for key, dst := range map[string]*time.Duration{
		"DOCKET_LEASE_TTL":          &c.Queue.LeaseTTL,
		"DOCKET_STALE_AFTER":        &c.Queue.StaleAfter,
		"DOCKET_RECONCILE_INTERVAL": &c.Queue.ReconcileInterval,
		"DOCKET_POLL_INTERVAL":      &c.Queue.PollInterval,
		"DOCKET_PROCESS_TIMEOUT":    &c.Queue.ProcessTimeout,
		"DOCKET_SHUTDOWN_TIMEOUT":   &c.ShutdownTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("DOCKET_RETENTION_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DOCKET_RETENTION_DAYS: %w", err)
		}
		c.Retention.Days = n
	}
	if v, ok := lookup("DOCKET_PURGE_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: DOCKET_PURGE_RATE: %w", err)
		}
		c.Retention.PurgeRate = f
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *FileConfig) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo, DriverPostgres:
		if c.Store.URI == "" {
			return fmt.Errorf("config: store.uri is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return c.DocketConfig().Validate()
}

// DocketConfig converts the file configuration into a docket.Config.
func (c *FileConfig) DocketConfig() docket.Config {
	return docket.Config{
		LeaseName:         c.Queue.LeaseName,
		LeaseTTL:          c.Queue.LeaseTTL,
		StaleAfter:        c.Queue.StaleAfter,
		ReconcileInterval: c.Queue.ReconcileInterval,
		PollInterval:      c.Queue.PollInterval,
		ProcessTimeout:    c.Queue.ProcessTimeout,
		RetentionDays:     c.Retention.Days,
		RetentionSchedule: c.Retention.Schedule,
		PurgeRate:         c.Retention.PurgeRate,
		ShutdownTimeout:   c.ShutdownTimeout,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the root logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
