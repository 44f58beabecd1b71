package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LibSQLConversationStore implements ConversationStore on the sessions,
// turns and turn_context tables.
type LibSQLConversationStore struct {
	db     *sql.DB
	logger zerolog.Logger
	locks  *sessionLocks
	now    func() time.Time
}

// NewLibSQLConversationStore creates a new LibSQL conversation store.
func NewLibSQLConversationStore(conn *sql.DB, logger zerolog.Logger) *LibSQLConversationStore {
	return &LibSQLConversationStore{
		db:     conn,
		logger: logger.With().Str("component", "session_store").Logger(),
		locks:  newSessionLocks(),
		now:    time.Now,
	}
}

// AppendTurn persists turn as the next turn of sessionID. The session row,
// the turn and its provenance are written in one transaction; cited ids that
// are not knowledge items are dropped. Appends to one session are serialized.
func (s *LibSQLConversationStore) AppendTurn(ctx context.Context, sessionID string, turn ports.Turn) (ports.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return ports.Turn{}, fmt.Errorf("session id is empty")
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	now := s.now().UTC()
	turn.ID = uuid.NewString()
	turn.SessionID = sessionID
	turn.CreatedAt = now
	cited := dedupe(turn.ContextIDs)
	var dropped []string

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, created_at, updated_at, turn_count) VALUES (?, ?, ?, 0)
			ON CONFLICT(id) DO NOTHING`,
			sessionID, now.UnixMilli(), now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?", sessionID,
		).Scan(&turn.Seq); err != nil {
			return fmt.Errorf("failed to allocate sequence number: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, seq, input, rephrased_question, output, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.ID, sessionID, turn.Seq, turn.Input, turn.RephrasedQuestion, turn.Output, turn.Source, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}

		linked := make([]string, 0, len(cited))
		for _, id := range cited {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM knowledge_items WHERE id = ? LIMIT 1", id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				dropped = append(dropped, id)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to resolve cited item %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO turn_context (turn_id, item_id, position) VALUES (?, ?, ?)",
				turn.ID, id, len(linked),
			); err != nil {
				return fmt.Errorf("failed to link cited item %s: %w", id, err)
			}
			linked = append(linked, id)
		}
		turn.ContextIDs = linked

		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET updated_at = ?, turn_count = turn_count + 1 WHERE id = ?",
			now.UnixMilli(), sessionID,
		); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return ports.Turn{}, err
	}

	if len(dropped) > 0 {
		s.logger.Warn().Str("session_id", sessionID).Strs("dropped", dropped).Msg("cited ids are not knowledge items")
	}
	s.logger.Debug().Str("session_id", sessionID).Int("seq", turn.Seq).Int("cited", len(turn.ContextIDs)).Msg("turn appended")
	return turn, nil
}

// LoadHistory returns the last k turns of the session in sequence order.
// k <= 0 returns every turn.
func (s *LibSQLConversationStore) LoadHistory(ctx context.Context, sessionID string, k int) ([]ports.Turn, error) {
	limit := k
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, input, rephrased_question, output, source, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []ports.Turn{}
	byID := make(map[string]int)
	for rows.Next() {
		t := ports.Turn{SessionID: sessionID}
		var created int64
		if err := rows.Scan(&t.ID, &t.Seq, &t.Input, &t.RephrasedQuestion, &t.Output, &t.Source, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	// Reverse to get chronological order (oldest first)
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	for i, t := range turns {
		byID[t.ID] = i
	}

	if len(turns) == 0 {
		return turns, nil
	}
	if err := s.loadContext(ctx, turns, byID); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *LibSQLConversationStore) loadContext(ctx context.Context, turns []ports.Turn, byID map[string]int) error {
	placeholders := make([]string, len(turns))
	args := make([]any, len(turns))
	for i, t := range turns {
		placeholders[i] = "?"
		args[i] = t.ID
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT turn_id, item_id FROM turn_context WHERE turn_id IN (%s) ORDER BY turn_id, position",
		strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("failed to query turn context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turnID, itemID string
		if err := rows.Scan(&turnID, &itemID); err != nil {
			return fmt.Errorf("failed to scan turn context: %w", err)
		}
		if i, ok := byID[turnID]; ok {
			turns[i].ContextIDs = append(turns[i].ContextIDs, itemID)
		}
	}
	return rows.Err()
}

// sessionLocks hands out one mutex per session id. Entries are reference
// counted and removed when the last holder unlocks.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Ensure LibSQLConversationStore implements the ConversationStore interface.
var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)
