// Gray Logic Ingest - multi-broker MQTT ingestion service.
//
// ingestd keeps one MQTT connection per distinct broker endpoint used by
// the registered devices, normalizes whatever payload shape each broker
// publishes into sensor readings, and accepts the same readings over an
// authenticated HTTP webhook.
//
// Usage:
//
//	ingestd                         run the service
//	ingestd -webhook-info <device>  print webhook setup for a device and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-ingest/migrations"

	"github.com/nerrad567/gray-logic-ingest/internal/api"
	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ingest/internal/ingest"
	"github.com/nerrad567/gray-logic-ingest/internal/sensor"
	"github.com/nerrad567/gray-logic-ingest/internal/webhook"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long shutdown waits for the pool to disconnect.
const shutdownTimeout = 10 * time.Second

func main() {
	webhookInfo := flag.String("webhook-info", "", "print webhook setup instructions for `device` and exit")
	baseURL := flag.String("base-url", "http://localhost:8080", "public base URL used in webhook instructions")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if *webhookInfo != "" {
		err = printWebhookInfo(ctx, os.Stdout, *webhookInfo, *baseURL)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Ingest",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	registry, err := loadRegistry(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	sensors := sensor.NewSQLiteRepository(db.DB)

	// Prometheus registry with Go runtime collectors plus ingest counters.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingest.NewMetrics(promReg)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)
	registry.SetStatusListener(hub.DeviceStatusChanged)

	normalizer := ingest.NewNormalizer(cfg.Normalization)
	sink := ingest.NewSink(sensors, registry)
	sink.SetLogger(log.Component("sink"))
	sink.SetFeed(hub)
	sink.SetMetrics(metrics)

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if influxErr != nil {
			// History is optional; live ingestion continues without it.
			log.Warn("InfluxDB unavailable, reading history disabled", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write failed", "error", err)
			})
			sink.SetHistory(influxClient)
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	processor := ingest.NewProcessor(normalizer, sink)
	processor.SetLogger(log.Component("processor"))
	processor.SetMetrics(metrics)

	poolLog := log.Component("pool")
	pool, err := ingest.NewPool(ingest.PoolDeps{
		Config:    cfg,
		Devices:   registry,
		Dialer:    ingest.MQTTDialer{Logger: poolLog},
		Processor: processor,
		Metrics:   metrics,
		Logger:    poolLog,
	})
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}

	var bridge api.WebhookHandler
	if cfg.Webhook.Enabled {
		signer, signErr := webhook.NewSigner(cfg.Webhook.Secret)
		if signErr != nil {
			return fmt.Errorf("creating webhook signer: %w", signErr)
		}
		b := webhook.NewBridge(registry, signer, normalizer, sink)
		b.SetLogger(log.Component("webhook"))
		bridge = b
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Devices:  registry,
		Sensors:  sensors,
		Pool:     pool,
		Webhook:  bridge,
		Gatherer: promReg,
		DB:       db.DB,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if _, err := pool.Resync(ctx); err != nil {
		// The periodic resync retries; an empty pool still serves webhooks.
		log.Error("initial device sync failed", "error", err)
	}

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	select {
	case <-poolDone:
	case <-time.After(shutdownTimeout):
		log.Warn("connection pool did not stop in time")
	}
	log.Info("shutdown complete")
	return nil
}

// getConfigPath returns the configuration file path from the
// GRAYLOGIC_CONFIG environment variable, or the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already returning the migration error
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// loadRegistry builds the cached device registry and applies the
// optional seed file.
func loadRegistry(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*device.Registry, error) {
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("devices"))

	if err := registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading device registry: %w", err)
	}

	if cfg.DevicesFile != "" {
		seed, err := device.LoadSeedFile(cfg.DevicesFile)
		if err != nil {
			return nil, fmt.Errorf("loading devices file: %w", err)
		}
		created, err := registry.Seed(ctx, seed)
		if err != nil {
			return nil, fmt.Errorf("seeding devices: %w", err)
		}
		log.Info("devices file applied", "path", cfg.DevicesFile, "created", created)
	}

	stats := registry.Stats()
	log.Info("device registry initialised", "devices", stats.Total, "mqtt", stats.MQTT, "webhook", stats.Webhook)
	return registry, nil
}

// printWebhookInfo writes the webhook URL and firmware setup steps for
// one device as JSON.
func printWebhookInfo(ctx context.Context, w io.Writer, deviceID, baseURL string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is not configured")
	}
	signer, err := webhook.NewSigner(cfg.Webhook.Secret)
	if err != nil {
		return err
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: cfg.Logging.Format, Output: "stderr"}, version)
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	dev, err := device.NewSQLiteRepository(db.DB).GetByID(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("looking up device %q: %w", deviceID, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(signer.InstructionsFor(baseURL, dev.ID, dev.UserID))
}
