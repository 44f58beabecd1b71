package harnessports

import (
	"context"
	"time"
)

// Turn is one persisted question/answer exchange in a session.
type Turn struct {
	ID                string
	SessionID         string
	Seq               int // 1-based, strictly increasing per session
	Input             string
	RephrasedQuestion string
	Output            string
	Source            string   // structured | semantic | refusal
	ContextIDs        []string // cited knowledge item ids, in citation order
	CreatedAt         time.Time
}

// ConversationStore persists sessions, turns and their provenance.
type ConversationStore interface {
	// LoadHistory returns the last k turns of the session, oldest first.
	// Unknown sessions have an empty history.
	LoadHistory(ctx context.Context, sessionID string, k int) ([]Turn, error)
	// AppendTurn assigns the next sequence number and persists turn with
	// its provenance atomically.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) (Turn, error)
}
