package loader

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/xtxerr/meterd/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
data_dir: /tmp/meterd-test
schema_dir: /tmp/meterd-test/schemas
flush_interval: 10s
scalar_bucket: 1m
shards: 32
compression: snappy
metastore:
  path: /tmp/meterd-test/meta.db
histogram:
  bins: [0, 2, 6, 10]
  metric_bins:
    sled:io_latency: [0, 100, 1000]
  out_of_range: drop
percentiles:
  enabled: true
  accuracy: 0.02
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != "/tmp/meterd-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.FlushInterval.Duration() != 10*time.Second {
		t.Errorf("flush_interval = %v", cfg.FlushInterval.Duration())
	}
	if cfg.ScalarBucket.Duration() != time.Minute {
		t.Errorf("scalar_bucket = %v", cfg.ScalarBucket.Duration())
	}
	if cfg.Shards != 32 {
		t.Errorf("shards = %d", cfg.Shards)
	}
	if cfg.Compression != "snappy" {
		t.Errorf("compression = %q", cfg.Compression)
	}
	if len(cfg.Histogram.Bins) != 4 {
		t.Errorf("bins = %v", cfg.Histogram.Bins)
	}
	if len(cfg.Histogram.MetricBins["sled:io_latency"]) != 3 {
		t.Errorf("metric_bins = %v", cfg.Histogram.MetricBins)
	}
	if cfg.Histogram.OutOfRange != "drop" {
		t.Errorf("out_of_range = %q", cfg.Histogram.OutOfRange)
	}
	if cfg.Percentiles.Accuracy != 0.02 {
		t.Errorf("accuracy = %v", cfg.Percentiles.Accuracy)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel())
	}
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeFile(t, "config.yaml", "data_dir: /tmp/x\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shards != 16 {
		t.Errorf("default shards = %d", cfg.Shards)
	}
	if cfg.FlushInterval.Duration() != 30*time.Second {
		t.Errorf("default flush_interval = %v", cfg.FlushInterval.Duration())
	}
	if cfg.Compression != "zstd" {
		t.Errorf("default compression = %q", cfg.Compression)
	}
	if cfg.Histogram.OutOfRange != "clamp" {
		t.Errorf("default out_of_range = %q", cfg.Histogram.OutOfRange)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("METERD_TEST_DIR", "/srv/telemetry")
	path := writeFile(t, "config.yaml", "data_dir: ${METERD_TEST_DIR}/data\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/srv/telemetry/data" {
		t.Errorf("env not expanded: %q", cfg.DataDir)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-power-of-two shards", func(c *Config) { c.Shards = 6 }},
		{"zero flush interval", func(c *Config) { c.FlushInterval = 0 }},
		{"zero scalar bucket", func(c *Config) { c.ScalarBucket = 0 }},
		{"bad out_of_range", func(c *Config) { c.Histogram.OutOfRange = "wrap" }},
		{"single bin boundary", func(c *Config) { c.Histogram.Bins = []float64{1} }},
		{"accuracy too small", func(c *Config) { c.Percentiles.Accuracy = 0.0001 }},
		{"accuracy too large", func(c *Config) { c.Percentiles.Accuracy = 0.5 }},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); !apperrors.Is(err, apperrors.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", c.name, err)
		}
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDuration_Forms(t *testing.T) {
	path := writeFile(t, "config.yaml", "flush_interval: 90\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlushInterval.Duration() != 90*time.Second {
		t.Errorf("integer duration should read as seconds, got %v", cfg.FlushInterval.Duration())
	}
}
