// AimX Console - operator-facing record service
//
// The console is the broker-side half of AimX. It mirrors the gateway's
// state topics into an in-memory record cache and serves the local
// record protocol over a Unix socket: reads, writes, and live watch
// streams. Optional sinks persist every accepted update to a SQLite
// history file and an InfluxDB telemetry bucket.
//
// The field-side half is the gateway (cmd/gateway), which owns the
// knxd tunnel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/aimx-core/internal/aimx"
	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/console"
	"github.com/nerrad567/aimx-core/internal/infrastructure/config"
	"github.com/nerrad567/aimx-core/internal/infrastructure/logging"
	"github.com/nerrad567/aimx-core/internal/infrastructure/mqtt"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting AimX console",
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
	log = logging.New(cfg.Logging, "console", version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Build the binding table
	table, err := binding.NewTable(cfg.Bindings)
	if err != nil {
		return fmt.Errorf("building binding table: %w", err)
	}
	log.Info("binding table built",
		"bindings", len(table.Bindings()),
		"monitored", len(table.Monitored()),
		"controlled", len(table.Controlled()),
	)

	// Connect to the MQTT broker, retrying until it is reachable
	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, "console", log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Open the history store (optional)
	var history *console.History
	if cfg.Console.History.Enabled {
		history, err = console.OpenHistory(cfg.Console.History, log)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer func() {
			log.Info("closing history store")
			if closeErr := history.Close(); closeErr != nil {
				log.Error("error closing history store", "error", closeErr)
			}
		}()
		log.Info("history store open",
			"path", history.Path(),
			"retention_days", cfg.Console.History.RetentionDays,
		)
	} else {
		log.Info("history store disabled")
	}

	// Connect to InfluxDB telemetry (optional)
	var telemetry *console.Telemetry
	if cfg.Console.Telemetry.Enabled {
		telemetry, err = console.ConnectTelemetry(cfg.Console.Telemetry, log)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetry.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		log.Info("telemetry connected",
			"url", cfg.Console.Telemetry.URL,
			"org", cfg.Console.Telemetry.Org,
			"bucket", cfg.Console.Telemetry.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// Create the record cache with its sinks attached
	cache, err := console.NewCache(console.CacheOptions{
		Table:     table,
		Broker:    mqttClient,
		QoS:       cfg.MQTT.GetQoS(),
		QueueSize: cfg.Console.SubscriptionQueueSize,
		History:   history,
		Telemetry: telemetry,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating record cache: %w", err)
	}

	// Start consuming state topics into the cache
	consumer, err := console.NewConsumer(table, cache, mqttClient, cfg.MQTT.GetQoS(), log)
	if err != nil {
		return fmt.Errorf("creating state consumer: %w", err)
	}
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("starting state consumer: %w", err)
	}

	// Create the protocol server
	server, err := aimx.NewServer(aimx.ServerOptions{
		SocketPath:     cfg.Console.SocketPath,
		MaxConnections: cfg.Console.MaxConnections,
		WriteEnabled:   cfg.Console.WriteEnabled,
		Cache:          cache,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating protocol server: %w", err)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, mqttClient, history, telemetry); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"socket", cfg.Console.SocketPath,
		"write_enabled", cfg.Console.WriteEnabled,
	)

	// Run the long-lived pieces until the first failure or shutdown
	// signal. Cancelling one cancels the group, so a crashed server
	// also stops the history pruner and vice versa.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if history != nil {
		g.Go(func() error {
			return history.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("running console: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	cacheStats := cache.Stats()
	serverStats := server.Stats()
	log.Info("AimX console stopped",
		"updates", cacheStats.Updates,
		"sets", cacheStats.Sets,
		"requests", serverStats.Requests,
		"pushes", serverStats.Pushes,
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AIMX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AIMX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - history: History store to check (may be nil if disabled)
//   - telemetry: Telemetry client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, history *console.History, telemetry *console.Telemetry) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if history != nil {
		if err := history.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}
