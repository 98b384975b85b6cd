package storage

import (
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "memory", "file", "sqlite".
	Backend string

	// Path is the JSON document path (file) or database path (sqlite).
	Path string

	// Driver is the SQLite driver ("sqlite" or "sqlite3").
	Driver string

	// SnapshotInterval is the SQLite WAL checkpoint interval.
	SnapshotInterval time.Duration

	// BusyTimeout is the SQLite lock wait.
	BusyTimeout time.Duration
}

// Open creates the backend described by cfg.
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryBackend(), nil
	case BackendFile:
		return NewFileBackend(cfg.Path)
	case BackendSQLite:
		return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:           cfg.Path,
			Driver:           cfg.Driver,
			SnapshotInterval: cfg.SnapshotInterval,
			BusyTimeout:      cfg.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown ledger storage backend %q", cfg.Backend)
	}
}
