package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		URL:          "file:" + filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		AutoMigrate:  true,
	}
	db, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"episodes", "topics", "resources", "people", "chunks", "sessions", "turns", "turn_context"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	var kind string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='view' AND name='knowledge_items'").Scan(&kind)
	require.NoError(t, err)

	status, err := MigrationStatus(context.Background(), db)
	require.NoError(t, err)
	assert.Len(t, status, 2)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, Migrate(context.Background(), db, zerolog.Nop()))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO topics (id, slug, name) VALUES ('topic:a', 'a', 'A')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM topics").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTxRollsBackOnCancel(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO topics (id, slug, name) VALUES ('topic:a', 'a', 'A')"); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM topics").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithReadTxNeverCommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithReadTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO topics (id, slug, name) VALUES ('topic:a', 'a', 'A')")
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM topics").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(config.DatabaseConfig{URL: "libsql://db.example.turso.io", AuthToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.turso.io?authToken=secret", dsn)
	assert.NotContains(t, redact(dsn), "secret")

	dsn, err = buildDSN(config.DatabaseConfig{URL: "file:local.db", AuthToken: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "file:local.db", dsn)

	_, err = buildDSN(config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	p, ok := localPath("file:/tmp/x.db?_foreign_keys=1")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x.db", p)

	_, ok = localPath("file::memory:")
	assert.False(t, ok)

	_, ok = localPath("libsql://remote")
	assert.False(t, ok)
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		URL:           "file:" + filepath.Join(t.TempDir(), "pool.db"),
		MaxOpenConns:  4,
		JournalMode:   "WAL",
		BusyTimeoutMs: 5000,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// hold every pooled connection at once so each one is a distinct handle
	conns := make([]*sql.Conn, 0, 4)
	for range 4 {
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	for i, conn := range conns {
		var busy, fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 5000, busy, "connection %d", i)
		assert.Equal(t, 1, fk, "connection %d", i)
	}
	for _, conn := range conns {
		conn.Close()
	}
}
