package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/config"
)

const sample = `
store:
  driver: mongo
  uri: mongodb://localhost:27017
  database: bills
redis:
  url: redis://localhost:6379/0
artifacts:
  dir: /var/spool/docket
queue:
  stale_after: 45m
  poll_interval: 2s
retention:
  days: 14
  schedule: "0 3 * * *"
log:
  level: debug
  format: json
`

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_MatchesDocketDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if got, want := cfg.DocketConfig(), docket.DefaultConfig(); got != want {
		t.Fatalf("DocketConfig() = %+v\nwant %+v", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecode_OverridesDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := cfg.Decode(strings.NewReader(sample)); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if cfg.Store.Driver != config.DriverMongo || cfg.Store.Database != "bills" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	dc := cfg.DocketConfig()
	if dc.StaleAfter != 45*time.Minute || dc.PollInterval != 2*time.Second {
		t.Fatalf("durations = %s, %s", dc.StaleAfter, dc.PollInterval)
	}
	if dc.RetentionDays != 14 || dc.RetentionSchedule != "0 3 * * *" {
		t.Fatalf("retention = %d %q", dc.RetentionDays, dc.RetentionSchedule)
	}
	// Unset keys keep their defaults.
	if dc.LeaseTTL != docket.DefaultConfig().LeaseTTL {
		t.Fatalf("lease ttl = %s", dc.LeaseTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := cfg.Decode(strings.NewReader("queue:\n  stale_afer: 1m\n")); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, c *config.FileConfig)
		wantErr bool
	}{
		{
			name: "strings and durations",
			env: map[string]string{
				"DOCKET_STORE_DRIVER":   "postgres",
				"DOCKET_STORE_URI":      "postgres://localhost/docket",
				"DOCKET_STALE_AFTER":    "10m",
				"DOCKET_RETENTION_DAYS": "7",
				"DOCKET_PURGE_RATE":     "2.5",
			},
			check: func(t *testing.T, c *config.FileConfig) {
				if c.Store.Driver != config.DriverPostgres || c.Store.URI != "postgres://localhost/docket" {
					t.Fatalf("store = %+v", c.Store)
				}
				if c.Queue.StaleAfter != 10*time.Minute || c.Retention.Days != 7 || c.Retention.PurgeRate != 2.5 {
					t.Fatalf("queue/retention = %+v %+v", c.Queue, c.Retention)
				}
			},
		},
		{name: "bad duration", env: map[string]string{"DOCKET_POLL_INTERVAL": "soon"}, wantErr: true},
		{name: "bad days", env: map[string]string{"DOCKET_RETENTION_DAYS": "thirty"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			err := cfg.ApplyEnv(envMap(tt.env))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnv: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.FileConfig)
	}{
		{"unknown driver", func(c *config.FileConfig) { c.Store.Driver = "sqlite" }},
		{"mongo without uri", func(c *config.FileConfig) { c.Store.Driver = config.DriverMongo }},
		{"bad log level", func(c *config.FileConfig) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.FileConfig) { c.Log.Format = "xml" }},
		{"bad schedule", func(c *config.FileConfig) { c.Retention.Schedule = "every day" }},
		{"zero stale threshold", func(c *config.FileConfig) { c.Queue.StaleAfter = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docket.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DOCKET_STORE_DATABASE", "bills_test")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Database != "bills_test" {
		t.Fatalf("database = %q, want env override", cfg.Store.Database)
	}
	if cfg.Artifacts.Dir != "/var/spool/docket" {
		t.Fatalf("artifacts dir = %q", cfg.Artifacts.Dir)
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, err := config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", slog.String("job_id", "job_1"))

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"job_id":"job_1"`) {
		t.Fatalf("log output = %s", out)
	}
}
