// meterd is the telemetry aggregation daemon: it registers timeseries
// schemas, validates and aggregates observations, and writes measurement
// rows to Parquet.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/meterd/internal/histogram"
	"github.com/xtxerr/meterd/internal/ingest"
	"github.com/xtxerr/meterd/internal/loader"
	"github.com/xtxerr/meterd/internal/logging"
	"github.com/xtxerr/meterd/internal/schema"
	"github.com/xtxerr/meterd/internal/storage"
	"github.com/xtxerr/meterd/internal/storage/metastore"
	"github.com/xtxerr/meterd/internal/storage/parquet"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "measurement directory (overrides config)")
	dbPath := flag.String("db", "", "metastore database path (overrides config)")
	schemaDir := flag.String("schemas", "", "schema document directory (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = loader.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.Metastore.Path = *dbPath
	}
	if *schemaDir != "" {
		cfg.SchemaDir = *schemaDir
	}

	logging.Init(cfg.LogLevel(), cfg.Logging.JSON)
	logg := logging.Component("main")
	logg.Info("meterd starting", "version", Version)

	// =========================================================================
	// Metastore (DuckDB - registered schemas)
	// =========================================================================

	meta, err := metastore.Open(cfg.Metastore.Path)
	if err != nil {
		log.Fatalf("Open metastore: %v", err)
	}
	defer meta.Close()

	reg := schema.NewRegistry()

	persisted, err := meta.LoadAll()
	if err != nil {
		log.Fatalf("Load persisted schemas: %v", err)
	}
	for _, s := range persisted {
		if err := reg.Register(s); err != nil {
			log.Fatalf("Register persisted schema %q: %v", s.Target.Name, err)
		}
	}
	logg.Info("loaded persisted schemas", "targets", len(persisted))

	// =========================================================================
	// Schema Documents
	// =========================================================================

	if cfg.SchemaDir != "" {
		docs, err := loader.LoadSchemaDir(cfg.SchemaDir)
		if err != nil {
			log.Fatalf("Load schema documents: %v", err)
		}
		for _, s := range docs {
			if err := reg.Register(s); err != nil {
				log.Fatalf("Register schema %q: %v", s.Target.Name, err)
			}
			// Persist the registry's merged view, not the raw document:
			// a document may omit previously published metrics, which the
			// registry carries forward and the metastore must keep.
			merged, ok := reg.Schema(s.Target.Name)
			if !ok {
				log.Fatalf("Registered schema %q missing from registry", s.Target.Name)
			}
			if err := meta.SaveSchema(merged); err != nil {
				log.Fatalf("Persist schema %q: %v", s.Target.Name, err)
			}
		}
		logg.Info("registered schema documents", "dir", cfg.SchemaDir, "count", len(docs))
	}

	// =========================================================================
	// Measurement Store (Parquet)
	// =========================================================================

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(cfg.Compression)

	store, err := storage.NewStore(cfg.DataDir, opts)
	if err != nil {
		log.Fatalf("Create measurement store: %v", err)
	}

	// =========================================================================
	// Ingest Service
	// =========================================================================

	policy := histogram.ParsePolicy(cfg.Histogram.OutOfRange)

	sketchAccuracy := 0.0
	if cfg.Percentiles.Enabled {
		sketchAccuracy = cfg.Percentiles.Accuracy
	}

	svc, err := ingest.New(ingest.Config{
		FlushInterval:  cfg.FlushInterval.Duration(),
		Shards:         cfg.Shards,
		DefaultBins:    cfg.Histogram.Bins,
		MetricBins:     cfg.Histogram.MetricBins,
		Policy:         policy,
		SketchAccuracy: sketchAccuracy,
		ScalarBucket:   cfg.ScalarBucket.Duration(),
	}, reg, store)
	if err != nil {
		log.Fatalf("Create ingest service: %v", err)
	}

	// =========================================================================
	// Signal Handling and Run
	// =========================================================================

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logg.Info("shutting down")
		cancel()
	}()

	logg.Info("ready",
		"data_dir", cfg.DataDir,
		"metastore", cfg.Metastore.Path,
		"targets", len(reg.Targets()))

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Ingest service: %v", err)
	}

	stats := svc.Stats()
	logg.Info("stopped",
		"observed", stats.Observed,
		"rejected", stats.Rejected,
		"clamped", stats.Clamped)
}
