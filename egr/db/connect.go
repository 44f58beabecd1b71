package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/rs/zerolog"
	libsql "github.com/tursodatabase/go-libsql"
)

// Open connects to the libSQL database described by cfg, applies the pool and
// PRAGMA settings, verifies connectivity, and runs migrations when enabled.
// The returned handle is shared by every store for the lifetime of the process.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	if path, ok := localPath(cfg.URL); ok {
		// Ensure database directory exists for embedded mode
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	logger.Info().Str("url", redact(cfg.URL)).Msg("connecting to libsql")

	var pragmas []string
	if _, ok := localPath(cfg.URL); ok {
		pragmas = connectionPragmas(cfg)
	}
	connector, err := newConnector(dsn, pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	db := sql.OpenDB(connector)

	configurePool(db, cfg)

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL == "" {
		return "", fmt.Errorf("database url is empty")
	}
	if strings.HasPrefix(cfg.URL, "file:") || cfg.AuthToken == "" {
		return cfg.URL, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	q := u.Query()
	q.Set("authToken", cfg.AuthToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func localPath(dsn string) (string, bool) {
	if !strings.HasPrefix(dsn, "file:") {
		return "", false
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return "", false
	}
	return path, true
}

func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.RawQuery == "" {
		return dsn
	}
	q := u.Query()
	if q.Has("authToken") {
		q.Set("authToken", "REDACTED")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// configurePool sets up connection pooling parameters
func configurePool(db *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	db.SetMaxOpenConns(maxOpen)

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	db.SetMaxIdleConns(maxIdle)

	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	db.SetConnMaxIdleTime(idle)

	life := cfg.ConnMaxLifetime
	if life <= 0 {
		life = time.Hour
	}
	db.SetConnMaxLifetime(life)
}

// connectionPragmas lists the PRAGMAs every pooled connection needs. SQLite
// keeps busy_timeout and foreign_keys per connection.
func connectionPragmas(cfg config.DatabaseConfig) []string {
	pragmas := []string{"foreign_keys = ON"}
	if cfg.BusyTimeoutMs > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout = %d", cfg.BusyTimeoutMs))
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode = "+cfg.JournalMode)
	}
	return pragmas
}

// pragmaConnector wraps the libsql connector and configures each connection
// before the pool hands it out.
type pragmaConnector struct {
	driver.Connector
	pragmas []string
}

func newConnector(dsn string, pragmas []string) (driver.Connector, error) {
	drv, ok := (&libsql.Connector{}).Driver().(driver.DriverContext)
	if !ok {
		return nil, fmt.Errorf("libsql driver does not support connectors")
	}
	base, err := drv.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	if len(pragmas) == 0 {
		return base, nil
	}
	return &pragmaConnector{Connector: base, pragmas: pragmas}, nil
}

func (c *pragmaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	queryer, ok := conn.(driver.QueryerContext)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("libsql connection cannot run PRAGMA statements")
	}
	for _, p := range c.pragmas {
		// Some PRAGMA statements return rows, so they go through Query
		rows, err := queryer.QueryContext(ctx, "PRAGMA "+p, nil)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set PRAGMA %s: %w", p, err)
		}
		rows.Close()
	}
	return conn, nil
}

// Close releases the native database handle when the pool is closed.
func (c *pragmaConnector) Close() error {
	if closer, ok := c.Connector.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// verify checks basic connectivity and the JSON1 functions the typed store relies on.
func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}

	var jsonResult string
	if err := db.QueryRowContext(ctx, `SELECT json_extract('{"test":"value"}', '$.test')`).Scan(&jsonResult); err != nil {
		return fmt.Errorf("JSON1 functions unavailable: %w", err)
	}
	return nil
}
