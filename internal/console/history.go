package console

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/aimx-core/internal/infrastructure/config"
	"github.com/nerrad567/aimx-core/internal/records"
)

// History store constants.
const (
	// historyDirPermissions is the permission mode for the store directory.
	historyDirPermissions = 0750

	// historyFilePermissions is the permission mode for the store file.
	historyFilePermissions = 0600

	// historyBusyTimeoutMS is the SQLite busy timeout.
	historyBusyTimeoutMS = 5000

	// historyConnectTimeout bounds the connectivity check on open.
	historyConnectTimeout = 5 * time.Second

	// historyPruneInterval is how often Run enforces retention.
	historyPruneInterval = time.Hour

	// Recent query bounds.
	defaultRecentLimit = 50
	maxRecentLimit     = 200

	hoursPerDay = 24
)

// historySchema creates the store on first open. The record column
// holds the wire JSON so external tooling reads the same encoding the
// broker carries.
const historySchema = `
CREATE TABLE IF NOT EXISTS record_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key         TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	record      TEXT    NOT NULL,
	sequence    INTEGER NOT NULL,
	observed_at INTEGER NOT NULL,
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_record_history_key_created
	ON record_history (key, created_at);
`

// HistoryEntry is one persisted cache update, newest first from Recent.
type HistoryEntry struct {
	ID         int64
	Key        string
	Kind       records.Kind
	Record     records.Record
	Sequence   uint64
	ObservedAt int64
	CreatedAt  time.Time
}

// HistoryStats is a point-in-time snapshot of history counters.
type HistoryStats struct {
	Appended uint64
	Pruned   uint64
}

// History is the optional append-only store of cache updates, kept in a
// local SQLite file for the admin tooling to query. It is write-only
// for the console itself: the cache never rehydrates from it.
//
// SQLite allows one writer, so the pool is pinned to a single
// connection; WAL mode keeps reads from blocking the write path.
type History struct {
	db        *sql.DB
	path      string
	retention time.Duration

	appended atomic.Uint64
	pruned   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// OpenHistory opens (creating if needed) the history store. Returns
// ErrHistoryDisabled when the configuration disables it.
func OpenHistory(cfg config.HistoryConfig, logger Logger) (*History, error) {
	if !cfg.Enabled {
		return nil, ErrHistoryDisabled
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), historyDirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	connStr := fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, historyBusyTimeoutMS,
	)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	// SQLite supports one writer; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), historyConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verifying history store: %w", err)
	}
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	// First run creates the file during the statements above.
	_ = os.Chmod(cfg.Path, historyFilePermissions)

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &History{
		db:        db,
		path:      cfg.Path,
		retention: time.Duration(retentionDays) * hoursPerDay * time.Hour,
		logger:    logger,
	}, nil
}

// Append persists one cache update.
func (h *History) Append(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("history append: key is required")
	}

	recordJSON, err := records.EncodeWire(e.Record)
	if err != nil {
		return fmt.Errorf("history append %q: %w", e.Key, err)
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO record_history (key, kind, record, sequence, observed_at) VALUES (?, ?, ?, ?, ?)",
		e.Key,
		string(e.Record.Kind),
		string(recordJSON),
		e.Sequence,
		e.Record.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("history append %q: %w", e.Key, err)
	}

	h.appended.Add(1)
	return nil
}

// Recent returns the newest entries for a key, newest first. limit
// defaults to 50 and caps at 200.
func (h *History) Recent(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("history query: key is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, key, kind, record, sequence, observed_at, created_at
		 FROM record_history
		 WHERE key = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history for %q: %w", key, err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry      HistoryEntry
			kind       string
			recordJSON string
			createdAt  string
		)
		if err := rows.Scan(&entry.ID, &entry.Key, &kind, &recordJSON,
			&entry.Sequence, &entry.ObservedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history for %q: %w", key, err)
		}

		entry.Kind = records.Kind(kind)
		rec, err := records.DecodeWire([]byte(recordJSON))
		if err != nil {
			return nil, fmt.Errorf("decoding history record for %q: %w", key, err)
		}
		entry.Record = rec

		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing history timestamp for %q: %w", key, err)
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history for %q: %w", key, err)
	}

	return entries, nil
}

// Prune deletes entries older than the configured retention. Returns
// the number of rows removed.
func (h *History) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-h.retention).Format(time.RFC3339)
	result, err := h.db.ExecContext(ctx,
		"DELETE FROM record_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking pruned rows: %w", err)
	}

	h.pruned.Add(uint64(removed))
	return removed, nil
}

// Run enforces retention until the context is cancelled: one prune at
// startup, then hourly. Prune failures are logged and retried on the
// next tick.
func (h *History) Run(ctx context.Context) error {
	h.pruneAndLog(ctx)

	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.pruneAndLog(ctx)
		}
	}
}

func (h *History) pruneAndLog(ctx context.Context) {
	removed, err := h.Prune(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		h.logWarn("history prune failed", "error", err)
	case removed > 0:
		h.logInfo("history pruned", "removed", removed)
	}
}

// HealthCheck verifies the store is accessible.
func (h *History) HealthCheck(ctx context.Context) error {
	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("history health check failed: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the store.
func (h *History) Path() string { return h.path }

// Stats returns a snapshot of history counters.
func (h *History) Stats() HistoryStats {
	return HistoryStats{
		Appended: h.appended.Load(),
		Pruned:   h.pruned.Load(),
	}
}

// Close closes the store.
func (h *History) Close() error {
	if h.db == nil {
		return nil
	}
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("closing history store: %w", err)
	}
	return nil
}

// SetLogger sets the logger for the history store.
func (h *History) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *History) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *History) logInfo(msg string, keysAndValues ...any) {
	if l := h.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (h *History) logWarn(msg string, keysAndValues ...any) {
	if l := h.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}
