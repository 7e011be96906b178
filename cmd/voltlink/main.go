// VoltLink Core - LAN Power Device Platform
//
// This is the main entry point for the VoltLink Core application.
// VoltLink manages smart power plugs and strips on the local network:
//   - Offline-first operation (no cloud dependency)
//   - Stable device identity across IP and firmware changes
//   - Legacy HTTP and UDP V3 device protocols
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/voltlink/voltlink-core/migrations"

	"github.com/voltlink/voltlink-core/internal/api"
	"github.com/voltlink/voltlink-core/internal/audit"
	"github.com/voltlink/voltlink-core/internal/core"
	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/discovery"
	"github.com/voltlink/voltlink-core/internal/dispatch"
	"github.com/voltlink/voltlink-core/internal/identity"
	"github.com/voltlink/voltlink-core/internal/infrastructure/config"
	"github.com/voltlink/voltlink-core/internal/infrastructure/database"
	"github.com/voltlink/voltlink-core/internal/infrastructure/influxdb"
	"github.com/voltlink/voltlink-core/internal/infrastructure/logging"
	"github.com/voltlink/voltlink-core/internal/infrastructure/mqtt"
	"github.com/voltlink/voltlink-core/internal/migration"
	"github.com/voltlink/voltlink-core/internal/poll"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting VoltLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the device layer
	manager := buildManager(cfg, deviceRegistry, db, mqttClient, influxClient, log)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting device manager: %w", err)
	}
	defer func() {
		log.Info("stopping device manager")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing device manager", "error", closeErr)
		}
	}()
	log.Info("device manager started")

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Service: manager,
		Audit:   audit.NewSQLiteRepository(db.DB),
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Device manager
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("VoltLink Core stopped")
	return nil
}

// buildManager wires the device-layer components into a core.Manager.
func buildManager(
	cfg *config.Config,
	registry *device.Registry,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) *core.Manager {
	transport := protocol.Config{
		UDPPort: cfg.Discovery.Port,
		Timeout: time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
	}

	dispatcher := dispatch.New(dispatch.Config{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Dispatch.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Dispatch.MaxBackoffMS) * time.Millisecond,
		Transport:   transport,
	})
	dispatcher.SetLogger(log)

	scanner := discovery.New(discovery.Config{
		Port:          cfg.Discovery.Port,
		BroadcastAddr: cfg.Discovery.BroadcastAddr,
		Timeout:       time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second,
		Transport:     transport,
	})
	scanner.SetLogger(log)

	resolver := identity.New(registry, dispatcher)
	resolver.SetLogger(log)

	coordinator := poll.New(poll.Config{
		NormalInterval:   time.Duration(cfg.Polling.NormalIntervalSeconds) * time.Second,
		BurstInterval:    time.Duration(cfg.Polling.BurstIntervalSeconds) * time.Second,
		BurstDuration:    time.Duration(cfg.Polling.BurstDurationSeconds) * time.Second,
		FailureThreshold: cfg.Polling.FailureThreshold,
		DegradedInterval: time.Duration(cfg.Polling.DegradedBaseSeconds) * time.Second,
		DegradedMax:      time.Duration(cfg.Polling.DegradedMaxSeconds) * time.Second,
		Staleness:        time.Duration(cfg.Polling.StalenessSeconds) * time.Second,
	}, dispatcher, registry, scanner)
	coordinator.SetLogger(log)

	engine := migration.New(migration.NewSQLiteRepository(db.DB), scanner, resolver)
	engine.SetLogger(log)

	opts := core.Options{
		Config: core.Config{
			ScanInterval: time.Duration(cfg.Discovery.ScanIntervalSeconds) * time.Second,
			QoS:          byte(cfg.MQTT.QoS),
		},
		Registry:  registry,
		Commander: dispatcher,
		Finder:    scanner,
		Resolver:  resolver,
		Watcher:   coordinator,
		Migrator:  engine,
	}
	// Assign optional sinks only when present; a typed nil pointer in the
	// interface field would defeat the manager's nil checks.
	if mqttClient != nil {
		opts.Publisher = mqttClient
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	manager := core.New(opts)
	manager.SetLogger(log)
	return manager
}

// getConfigPath returns the configuration file path.
// Uses VOLTLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VOLTLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
