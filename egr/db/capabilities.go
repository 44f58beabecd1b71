package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// Capabilities records the optional libSQL features detected on a handle.
type Capabilities struct {
	JSON1         bool
	FTS5          bool
	VectorDistCos bool // vector32 + vector_distance_cos
}

// DetectCapabilities probes the optional functions used by the stores. Probes
// never fail the caller; a missing feature just disables the fast path.
func DetectCapabilities(ctx context.Context, db *sql.DB, logger zerolog.Logger) Capabilities {
	var caps Capabilities

	probe := func(query string) bool {
		pctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		rows, err := db.QueryContext(pctx, query)
		if err != nil {
			logger.Debug().Err(err).Str("query", query).Msg("capability probe failed")
			return false
		}
		rows.Close()
		return true
	}

	caps.JSON1 = probe(`SELECT json_extract('{"test":"value"}', '$.test')`)
	caps.VectorDistCos = probe("SELECT vector_distance_cos(vector32('[1,2,3]'), vector32('[1,2,3]'))")

	if probe("CREATE VIRTUAL TABLE IF NOT EXISTS temp._fts5_probe USING fts5(content)") {
		caps.FTS5 = true
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS temp._fts5_probe")
	}

	logger.Info().
		Bool("json1", caps.JSON1).
		Bool("fts5", caps.FTS5).
		Bool("vector_distance_cos", caps.VectorDistCos).
		Msg("libsql capabilities detected")

	return caps
}
