package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure Go SQLite driver ("sqlite")
)

const (
	// DriverModernc is the pure Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"

	// DriverCGO is the cgo driver registered by github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"

	scopeGlobal = "global"
	scopeUser   = "user"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// Each bucket is one row; Save upserts the whole document inside a single
// transaction and drops rows that are no longer part of it.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent performance
// and automatic checkpointing to balance write performance with durability.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	driver           string
	snapshotInterval time.Duration
	generation       int64
	done             chan struct{}
	mu               sync.Mutex
	closeOnce        sync.Once

	upsertStmt *sql.Stmt
	pruneStmt  *sql.Stmt
	loadStmt   *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver selects the database/sql driver: "sqlite" (modernc, default)
	// or "sqlite3" (mattn, requires cgo).
	Driver string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:           dbPath,
		Driver:           DriverModernc,
		SnapshotInterval: 5 * time.Minute,
		BusyTimeout:      5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		driver:           cfg.Driver,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	if err := db.QueryRow(`SELECT COALESCE(MAX(generation), 0) FROM ledger_buckets`).Scan(&backend.generation); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to read generation: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_buckets (
		scope TEXT NOT NULL,
		user_id TEXT NOT NULL,
		bucket_key TEXT NOT NULL,
		state TEXT NOT NULL,
		generation INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (scope, user_id, bucket_key)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_generation ON ledger_buckets(generation);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.upsertStmt, err = s.db.Prepare(`
		INSERT INTO ledger_buckets (scope, user_id, bucket_key, state, generation, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, user_id, bucket_key) DO UPDATE SET
			state = excluded.state,
			generation = excluded.generation,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM ledger_buckets WHERE generation < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`SELECT scope, user_id, bucket_key, state FROM ledger_buckets`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	return nil
}

// Load reads every bucket row back into a document.
func (s *SQLiteBackend) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.loadStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load buckets: %w", err)
	}
	defer rows.Close()

	doc := NewDocument()
	for rows.Next() {
		var scope, userID, key, state string
		if err := rows.Scan(&scope, &userID, &key, &state); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var rec BucketRecord
		if err := json.Unmarshal([]byte(state), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bucket %s/%s: %w", userID, key, err)
		}

		switch scope {
		case scopeGlobal:
			doc.GlobalBuckets[key] = rec
		case scopeUser:
			buckets, ok := doc.UserBuckets[userID]
			if !ok {
				buckets = make(map[string]BucketRecord)
				doc.UserBuckets[userID] = buckets
			}
			buckets[key] = rec
		default:
			return nil, fmt.Errorf("unknown bucket scope %q", scope)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return doc, nil
}

// Save upserts every bucket in doc and removes rows absent from it.
func (s *SQLiteBackend) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	gen := s.generation + 1
	upsert := tx.StmtContext(ctx, s.upsertStmt)

	write := func(scope, userID, key string, rec BucketRecord) error {
		state, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal bucket %s/%s: %w", userID, key, err)
		}
		if _, err := upsert.ExecContext(ctx, scope, userID, key, string(state), gen, rec.LastUpdate.Unix()); err != nil {
			return fmt.Errorf("failed to save bucket %s/%s: %w", userID, key, err)
		}
		return nil
	}

	for key, rec := range doc.GlobalBuckets {
		if err := write(scopeGlobal, "", key, rec); err != nil {
			return err
		}
	}
	for userID, buckets := range doc.UserBuckets {
		for key, rec := range buckets {
			if err := write(scopeUser, userID, key, rec); err != nil {
				return err
			}
		}
	}

	if _, err := tx.StmtContext(ctx, s.pruneStmt).ExecContext(ctx, gen); err != nil {
		return fmt.Errorf("failed to prune stale buckets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger state: %w", err)
	}
	s.generation = gen

	return nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteBackend) Driver() string {
	return s.driver
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.upsertStmt != nil {
			s.upsertStmt.Close()
		}
		if s.pruneStmt != nil {
			s.pruneStmt.Close()
		}
		if s.loadStmt != nil {
			s.loadStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
