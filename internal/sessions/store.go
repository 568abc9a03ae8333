// Package sessions implements the durable per-channel conversation store
// (spec §4.5) and the per-session turn lock (spec §5).
package sessions

import (
	"context"
	"errors"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// ErrNotFound is returned when a session lookup fails.
var ErrNotFound = errors.New("sessions: not found")

// Store is the durable session persistence interface (spec §4.5).
//
// Message-log writes must be fsync-durable before a turn returns to the
// channel (spec §5); implementations are responsible for that guarantee.
type Store interface {
	// GetOrCreate returns the session identified by (kind, scope), creating
	// it if absent.
	GetOrCreate(ctx context.Context, kind models.ChannelKind, scope string) (*models.Session, error)

	// Get loads a session by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Touch updates a session's last-touched time.
	Touch(ctx context.Context, id string) error

	// AppendMessage appends msg to the session's ordered log with a
	// strictly increasing sequence number and returns that sequence number.
	// Rejects msg if appending it would violate the turn-linearity
	// invariant checked by ValidateTranscript.
	AppendMessage(ctx context.Context, sessionID string, msg models.Message) (seq int64, err error)

	// History returns the full ordered message log for a session.
	History(ctx context.Context, sessionID string) ([]models.Message, error)

	// ReplaceOldest atomically replaces the oldest `count` messages with a
	// single synthetic message (used by compaction, spec §4.5).
	ReplaceOldest(ctx context.Context, sessionID string, count int, summary models.Message) error

	// MessageCount returns the number of persisted messages for a session.
	MessageCount(ctx context.Context, sessionID string) (int, error)

	Close() error
}
