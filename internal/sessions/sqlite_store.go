package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/pkg/ids"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo
)

// SQLiteStore is the single-file embedded relational Store (spec §4.5).
// Writes are executed against a single *sql.DB; modernc.org/sqlite
// serializes concurrent writers internally, and callers additionally
// serialize per-session writes through Locker (spec §5).
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and applies migrations.
// path may be ":memory:" for ephemeral stores (used in tests).
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer keeps WAL simple and avoids SQLITE_BUSY storms
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the underlying connection so sibling components backed by the
// same single-file database (memory.Store, the migrate status command) can share it
// instead of opening a second handle (spec §4.5: "Memory entries live in
// the same database").
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) GetOrCreate(ctx context.Context, kind models.ChannelKind, scope string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, system_prompt, allowlist_json, created_at, touched_at
		FROM sessions WHERE channel_kind = ? AND channel_scope = ?`, kind, scope)

	sess, err := scanSession(row, kind, scope)
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("sessions: lookup: %w", err)
	}

	now := time.Now().UTC()
	newSess := &models.Session{
		ID: ids.New(), ChannelKind: kind, ChannelScope: scope,
		CreatedAt: now, TouchedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel_kind, channel_scope, system_prompt, allowlist_json, created_at, touched_at)
		VALUES (?, ?, ?, '', '', ?, ?)
		ON CONFLICT (channel_kind, channel_scope) DO NOTHING`,
		newSess.ID, kind, scope, now, now)
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}

	// Another writer may have raced us; re-read to get the winning row.
	row = s.db.QueryRowContext(ctx, `
		SELECT id, system_prompt, allowlist_json, created_at, touched_at
		FROM sessions WHERE channel_kind = ? AND channel_scope = ?`, kind, scope)
	return scanSession(row, kind, scope)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel_kind, channel_scope, system_prompt, allowlist_json, created_at, touched_at
		FROM sessions WHERE id = ?`, id)

	var kind, scope, prompt, allowlist string
	var created, touched time.Time
	if err := row.Scan(&kind, &scope, &prompt, &allowlist, &created, &touched); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	return &models.Session{
		ID: id, ChannelKind: models.ChannelKind(kind), ChannelScope: scope,
		SystemPrompt: prompt, ToolAllowlist: splitAllowlist(allowlist),
		CreatedAt: created, TouchedAt: touched,
	}, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET touched_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sessions: touch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sessions: begin append: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID)
	if err := row.Scan(&nextSeq); err != nil {
		return 0, fmt.Errorf("sessions: next seq: %w", err)
	}

	prior, err := queryHistory(ctx, tx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("sessions: load prior history: %w", err)
	}
	if err := ValidateTranscript(append(prior, msg)); err != nil {
		return 0, fmt.Errorf("sessions: refusing to append: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("sessions: marshal message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content_json, created_at)
		VALUES (?, ?, ?, ?, ?)`, sessionID, nextSeq, msg.Role, string(payload), msg.CreatedAt); err != nil {
		return 0, fmt.Errorf("sessions: insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET touched_at = ? WHERE id = ?`, time.Now().UTC(), sessionID); err != nil {
		return 0, fmt.Errorf("sessions: touch on append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sessions: commit append: %w", err)
	}
	return nextSeq, nil
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	out, err := queryHistory(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: history: %w", err)
	}
	return out, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so queryHistory can read
// the committed log or a transaction's in-progress view with one body.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryHistory(ctx context.Context, db dbtx, sessionID string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT content_json FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sessions: count: %w", err)
	}
	return count, nil
}

// ReplaceOldest deletes the oldest `count` messages and inserts summary as
// the new first message, renumbering the remainder to keep seq contiguous
// and increasing (spec §4.5 compaction).
func (s *SQLiteStore) ReplaceOldest(ctx context.Context, sessionID string, count int, summary models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin compaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, content_json FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return fmt.Errorf("sessions: compaction read: %w", err)
	}
	type row struct {
		seq     int64
		content string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.content); err != nil {
			rows.Close()
			return fmt.Errorf("sessions: compaction scan: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if count > len(all) {
		count = len(all)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sessions: compaction clear: %w", err)
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("sessions: marshal summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content_json, created_at)
		VALUES (?, 1, ?, ?, ?)`, sessionID, summary.Role, string(payload), summary.CreatedAt); err != nil {
		return fmt.Errorf("sessions: insert summary: %w", err)
	}

	seq := int64(2)
	for _, r := range all[count:] {
		var kept models.Message
		if err := json.Unmarshal([]byte(r.content), &kept); err != nil {
			return fmt.Errorf("sessions: compaction decode kept message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, role, content_json, created_at)
			VALUES (?, ?, ?, ?, ?)`, sessionID, seq, kept.Role, r.content, kept.CreatedAt); err != nil {
			return fmt.Errorf("sessions: compaction reinsert: %w", err)
		}
		seq++
	}
	return tx.Commit()
}

func scanSession(row *sql.Row, kind models.ChannelKind, scope string) (*models.Session, error) {
	var id, prompt, allowlist string
	var created, touched time.Time
	if err := row.Scan(&id, &prompt, &allowlist, &created, &touched); err != nil {
		return nil, err
	}
	return &models.Session{
		ID: id, ChannelKind: kind, ChannelScope: scope,
		SystemPrompt: prompt, ToolAllowlist: splitAllowlist(allowlist),
		CreatedAt: created, TouchedAt: touched,
	}, nil
}

func splitAllowlist(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
