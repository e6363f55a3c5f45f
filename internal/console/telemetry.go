package console

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/aimx-core/internal/infrastructure/config"
	"github.com/nerrad567/aimx-core/internal/records"
)

// Telemetry sink constants.
const (
	telemetryConnectTimeout = 10 * time.Second
	telemetryPingTimeout    = 5 * time.Second

	// msPerSecond converts the configured flush interval for the
	// InfluxDB API.
	msPerSecond = 1000
)

// TelemetryStats is a point-in-time snapshot of telemetry counters.
type TelemetryStats struct {
	Points      uint64
	WriteErrors uint64
}

// Telemetry is the optional time-series sink for observed record
// values: temperatures as-is, switch states as 0/1, tagged by key.
// Writes are non-blocking and batched; async write failures are logged
// and counted, never surfaced to the update path.
type Telemetry struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	connected bool
	mu        sync.RWMutex

	points      atomic.Uint64
	writeErrors atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// ConnectTelemetry connects the telemetry sink. Returns
// ErrTelemetryDisabled when the configuration disables it.
func ConnectTelemetry(cfg config.TelemetryConfig, logger Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, ErrTelemetryDisabled
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("telemetry url is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*msPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), telemetryConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("telemetry server not healthy")
	}

	t := &Telemetry{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
		logger:    logger,
	}

	go t.drainWriteErrors(t.writeAPI.Errors())

	return t, nil
}

// drainWriteErrors logs async write failures from the batching API.
func (t *Telemetry) drainWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		t.writeErrors.Add(1)
		t.logWarn("telemetry write failed", "error", err)
	}
}

// Observe records one cache update. Control records carry no
// observation and are skipped.
func (t *Telemetry) Observe(key string, rec records.Record) {
	if !t.IsConnected() {
		return
	}

	var value float64
	switch rec.Kind {
	case records.KindTemperature:
		value = rec.ValueCelsius
	case records.KindSwitchState:
		if rec.IsOn {
			value = 1
		}
	default:
		return
	}

	ts := time.UnixMilli(rec.ObservedAt)
	if rec.ObservedAt == 0 {
		ts = time.Now()
	}

	point := write.NewPoint(
		"records",
		map[string]string{
			"key":     key,
			"kind":    string(rec.Kind),
			"address": rec.Address.String(),
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)

	t.writeAPI.WritePoint(point)
	t.points.Add(1)
}

// Flush forces pending points out. Safe to call when disconnected.
func (t *Telemetry) Flush() {
	if t.writeAPI == nil || !t.IsConnected() {
		return
	}
	t.writeAPI.Flush()
}

// HealthCheck verifies the sink connection is alive.
func (t *Telemetry) HealthCheck(ctx context.Context) error {
	if !t.IsConnected() {
		return fmt.Errorf("telemetry sink not connected")
	}

	checkCtx, cancel := context.WithTimeout(ctx, telemetryPingTimeout)
	defer cancel()

	healthy, err := t.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state.
func (t *Telemetry) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Stats returns a snapshot of telemetry counters.
func (t *Telemetry) Stats() TelemetryStats {
	return TelemetryStats{
		Points:      t.points.Load(),
		WriteErrors: t.writeErrors.Load(),
	}
}

// Close flushes pending points and shuts the sink down.
func (t *Telemetry) Close() error {
	if t.client == nil {
		return nil
	}

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.writeAPI.Flush()
	t.client.Close()
	return nil
}

// SetLogger sets the logger for the telemetry sink.
func (t *Telemetry) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Telemetry) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Telemetry) logWarn(msg string, keysAndValues ...any) {
	if l := t.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}
