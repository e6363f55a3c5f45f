// AimX Gateway - field bus bridge
//
// The gateway is the field-side half of AimX. It keeps a tunnel open to
// the knxd daemon, decodes group telegrams into typed records published
// on the broker's state topics, and forwards control records from the
// broker back onto the bus.
//
// The operator-facing half is the console (cmd/console), which serves
// the local record protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/bridges/knx"
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
	log.Info("starting AimX gateway",
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
	log = logging.New(cfg.Logging, "gateway", version)
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

	// Connect to the MQTT broker, retrying until it is reachable. The
	// gateway cannot do anything useful without the broker, so startup
	// blocks here rather than limping on degraded.
	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, "gateway", log)
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

	// Create the field bus bridge. Run owns the knxd connection
	// lifecycle: it dials, bridges, and on any link failure backs off
	// and redials until the context is cancelled.
	bridge, err := knx.NewBridge(knx.Options{
		Config: cfg.KNX,
		QoS:    cfg.MQTT.GetQoS(),
		Table:  table,
		Broker: mqttClient,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating field bus bridge: %w", err)
	}

	log.Info("initialisation complete, bridging until shutdown signal",
		"knxd", cfg.KNX.Endpoint(),
	)

	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("running field bus bridge: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	stats := bridge.Stats()
	log.Info("AimX gateway stopped",
		"telegrams_in", stats.TelegramsIn,
		"telegrams_out", stats.TelegramsOut,
		"publishes", stats.Publishes,
		"reconnects", stats.Reconnects,
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
