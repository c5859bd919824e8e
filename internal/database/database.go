// internal/database/database.go

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"CalibrationMonitorAPI/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Database struct {
	DB     *sqlx.DB
	driver string
}

func New(cfg *config.DatabaseConfig) (*Database, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(cfg.SQLitePath)
	case config.DriverPostgres, "":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sqlx.Open(config.DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return finish(db, config.DriverPostgres)
}

// NewSQLite opens an embedded database at path; ":memory:" gives a private throwaway store.
func NewSQLite(path string) (*Database, error) {
	return openSQLite(path)
}

func openSQLite(path string) (*Database, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(config.DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	return finish(db, config.DriverSQLite)
}

func finish(db *sqlx.DB, driver string) (*Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{DB: db, driver: driver}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

func (d *Database) initSchema(ctx context.Context) error {
	bodyType := "TEXT"
	if d.driver == config.DriverPostgres {
		bodyType = "JSONB"
	}

	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			collection    TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			doc_key       TEXT NOT NULL,
			body          %s NOT NULL,
			version       BIGINT NOT NULL DEFAULT 1,
			updated_at    BIGINT NOT NULL,
			PRIMARY KEY (collection, doc_key)
		)`, bodyType),
		`CREATE INDEX IF NOT EXISTS idx_documents_partition ON documents(collection, partition_key)`,
	}

	for _, stmt := range schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Driver is the registered database/sql driver name.
func (d *Database) Driver() string {
	return d.driver
}

func (d *Database) IsPostgres() bool {
	return d.driver == config.DriverPostgres
}

func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := d.DB.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

func (d *Database) Stats() sql.DBStats {
	return d.DB.Stats()
}

func (d *Database) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return d.DB.BeginTxx(ctx, opts)
}
