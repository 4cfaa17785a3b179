/*

This file contains the SQL store behind the keeper's history and the ledger snapshots.

The same schema is served by PostgreSQL (lib/pq) in production and by an embedded SQLite file (modernc) for
local runs and tests. Queries are written with PostgreSQL placeholders and rebound for SQLite.

*/

package state

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/elys-network/pegvault/internal/logger"
)

var stateLogger = logger.GetForComponent("state")

// Dialect selects the SQL flavour of a store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Driver   Dialect
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
	Path     string // SQLite file, ":memory:" is not shared across connections
}

// Store is a connection pool plus the dialect it speaks.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open initializes the database connection pool and checks it is reachable.
func Open(ctx context.Context, cfg DBConfig) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DialectPostgres:
		psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		db, err = sql.Open("postgres", psqlInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

	case DialectSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path cannot be empty")
		}
		db, err = sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection serializes writes instead of failing them.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	stateLogger.Info().Str("driver", string(cfg.Driver)).Msg("Successfully connected to the database")
	return &Store{db: db, dialect: cfg.Driver}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	stateLogger.Info().Msg("Closing database connection...")
	if err := s.db.Close(); err != nil {
		stateLogger.Error().Err(err).Msg("Error closing database connection")
	}
}

// Dialect reports which database the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping tests if the database connection is healthy
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind turns $N placeholders into SQLite's ?N form.
func (s *Store) rebind(query string) string {
	if s.dialect == DialectPostgres {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// ddl fills the dialect specific column types into a schema statement.
func (s *Store) ddl(stmt string) string {
	r := strings.NewReplacer(
		"{{id}}", "BIGSERIAL PRIMARY KEY",
		"{{json}}", "JSONB",
		"{{amount}}", "NUMERIC(78, 0)",
	)
	if s.dialect == DialectSQLite {
		r = strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{json}}", "TEXT",
			"{{amount}}", "TEXT",
		)
	}
	return r.Replace(stmt)
}

// migrations are applied in order; the schema version is the number applied.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id {{id}},
			cycle_number BIGINT NOT NULL,
			cycle_id VARCHAR(64) NOT NULL,
			snapshot_timestamp BIGINT NOT NULL, -- unix milliseconds
			duration_ms BIGINT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			initial_total_assets {{amount}} NOT NULL,
			final_total_assets {{amount}} NOT NULL,
			initial_total_supply {{amount}} NOT NULL,
			final_total_supply {{amount}} NOT NULL,
			snapshot {{json}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC)`,

		`CREATE TABLE IF NOT EXISTS rebases (
			rebase_id {{id}},
			cycle_id VARCHAR(64),
			rebase_timestamp BIGINT NOT NULL,
			total_value {{amount}} NOT NULL,
			old_supply {{amount}} NOT NULL,
			new_supply {{amount}} NOT NULL,
			trustee_fee {{amount}} NOT NULL,
			credits_per_token {{amount}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebases_timestamp ON rebases(rebase_timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT single_row_check CHECK (id = 1)
		)`,
		`INSERT INTO cycle_counter (id, current_cycle) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	},
	{
		`CREATE TABLE IF NOT EXISTS ledger_snapshots (
			ledger_id {{id}},
			created_at BIGINT NOT NULL,
			genesis_version INTEGER NOT NULL,
			genesis {{json}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_snapshots_created ON ledger_snapshots(created_at DESC)`,
	},
}

// SchemaVersion is the database schema version EnsureSchema migrates to.
var SchemaVersion = len(migrations)

// EnsureSchema applies the migrations the database has not seen yet. It is safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_info (
			id INTEGER PRIMARY KEY DEFAULT 1,
			version INTEGER NOT NULL,
			updated_at BIGINT NOT NULL,
			CONSTRAINT single_row_check CHECK (id = 1)
		)`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}
	if _, err := s.exec(ctx, `INSERT INTO schema_info (id, version, updated_at) VALUES (1, 0, $1) ON CONFLICT (id) DO NOTHING`,
		time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to seed schema_info: %w", err)
	}

	current, err := s.CurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for v := current; v < SchemaVersion; v++ {
		if err := s.applyMigration(ctx, v+1, migrations[v]); err != nil {
			return err
		}
	}
	stateLogger.Info().Int("schema_version", SchemaVersion).Int("from", current).Msg("Database schema ensured")
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, stmts []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, s.ddl(stmt)); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
	}
	if _, err = tx.ExecContext(ctx, s.rebind(`UPDATE schema_info SET version = $1, updated_at = $2 WHERE id = 1`),
		version, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	stateLogger.Info().Int("version", version).Msg("Applied schema migration")
	return nil
}

// CurrentSchemaVersion returns the number of migrations applied to the database.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.queryRow(ctx, `SELECT version FROM schema_info WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Reset drops every table the store owns. The next EnsureSchema starts from scratch.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"cycle_snapshots", "rebases", "cycle_counter", "ledger_snapshots", "schema_info"} {
		if _, err := s.exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
		stateLogger.Warn().Str("table", table).Msg("Dropped table")
	}
	return nil
}
