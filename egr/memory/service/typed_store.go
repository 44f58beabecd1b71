package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/rs/zerolog"
)

// ErrUnsafeQuery is wrapped by errors for statements rejected before execution.
var ErrUnsafeQuery = errors.New("unsafe query")

// TypedStoreImpl implements TypedStore over the libSQL corpus tables.
type TypedStoreImpl struct {
	db      *sql.DB
	maxRows int
	logger  zerolog.Logger
}

// NewTypedStore creates a typed store that returns at most maxRows rows per query.
func NewTypedStore(conn *sql.DB, maxRows int, logger zerolog.Logger) *TypedStoreImpl {
	if maxRows <= 0 {
		maxRows = 20
	}
	return &TypedStoreImpl{
		db:      conn,
		maxRows: maxRows,
		logger:  logger.With().Str("component", "typed_store").Logger(),
	}
}

// Query runs a read-only statement inside a transaction that is always rolled
// back and returns up to maxRows rows.
func (s *TypedStoreImpl) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if problems := CheckReadOnly(query); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeQuery, strings.Join(problems, "; "))
	}
	query = NormalizeQuery(query)

	var out []Row
	err := db.WithReadTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("failed to read columns: %w", err)
		}

		for rows.Next() {
			if len(out) >= s.maxRows {
				break
			}
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}

			row := make(Row, len(cols))
			for i, col := range cols {
				row[col] = decodeValue(values[i])
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int("rows", len(out)).Msg("query executed")
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// Explain compiles query without running it. The returned error carries the
// engine's message, e.g. "no such column: e.name".
func (s *TypedStoreImpl) Explain(ctx context.Context, query string) error {
	if problems := CheckReadOnly(query); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsafeQuery, strings.Join(problems, "; "))
	}

	rows, err := s.db.QueryContext(ctx, "EXPLAIN "+NormalizeQuery(query))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// Ping verifies the store is reachable.
func (s *TypedStoreImpl) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// TopicSlugs lists every topic slug, sorted.
func (s *TypedStoreImpl) TopicSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT slug FROM topics ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// decodeValue converts driver values into JSON-friendly values. Text that
// looks like a JSON object or array (json_object/json_group_array output) is
// decoded so nested ids stay reachable.
func decodeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		if !utf8.Valid(t) {
			// embeddings and other binary blobs carry no citations
			return nil
		}
		return decodeValue(string(t))
	case string:
		if looksLikeJSON(t) {
			return decodeJSONString(t)
		}
		return t
	default:
		return t
	}
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 2 && ((s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']'))
}

func decodeJSONString(s string) any {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return s
	}
	return decoded
}

var _ TypedStore = (*TypedStoreImpl)(nil)
