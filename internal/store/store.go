// Package store is the SQLite-backed metadata store: uploaded documents,
// chat sessions bound to a document, and the messages of each session.
// The job queue lives in the same database (see package queue).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// Role identifies the author of a session message.
type Role string

const (
	// RoleUser is a question sent by the client.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the retrieval orchestrator.
	RoleAssistant Role = "assistant"
)

// Document is the metadata of one uploaded PDF.
type Document struct {
	// ID is the stored object name, also used as the documentId in the index.
	ID string `json:"documentId"`
	// OriginalName is the client-supplied file name.
	OriginalName string `json:"originalName"`
	// ContentType is the declared media type.
	ContentType string `json:"contentType"`
	// SizeBytes is the stored object size.
	SizeBytes int64 `json:"sizeBytes"`
	// Path is the object's location in the object store.
	Path string `json:"path"`
	// JobID is the ingestion job, empty until enqueued.
	JobID string `json:"jobId,omitempty"`
	// CreatedAt is the upload time.
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a chat conversation bound to one document.
type Session struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	PDFName    string    `json:"pdfName"`
	TurnCount  int       `json:"messageCount"`
	TurnLimit  int       `json:"limit"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Message is a single turn in a session.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"createdAt"`
}

// SQLiteStore persists documents, sessions and messages.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the shared database handle.
	db *sql.DB
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New wraps db and runs the schema migration.
func New(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id            TEXT    PRIMARY KEY,
    original_name TEXT    NOT NULL,
    content_type  TEXT    NOT NULL,
    size_bytes    INTEGER NOT NULL,
    path          TEXT    NOT NULL,
    job_id        TEXT    NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL  -- Unix milliseconds
);
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT    PRIMARY KEY,
    document_id TEXT    NOT NULL,
    pdf_name    TEXT    NOT NULL,
    turn_count  INTEGER NOT NULL DEFAULT 0,
    turn_limit  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateDocument inserts a document row.
func (s *SQLiteStore) CreateDocument(ctx context.Context, d *Document) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	const q = `INSERT INTO documents (id, original_name, content_type, size_bytes, path, job_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, d.ID, d.OriginalName, d.ContentType, d.SizeBytes, d.Path, d.JobID, d.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	return nil
}

// SetDocumentJob records the ingestion job for a document.
func (s *SQLiteStore) SetDocumentJob(ctx context.Context, documentID, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET job_id = ? WHERE id = ?`, jobID, documentID)
	if err != nil {
		return fmt.Errorf("store: set document job: %w", err)
	}
	return requireRow(res, "store.document", "document not found")
}

// GetDocument returns the document with the given id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT id, original_name, content_type, size_bytes, path, job_id, created_at FROM documents WHERE id = ?`
	var d Document
	var created int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.OriginalName, &d.ContentType, &d.SizeBytes, &d.Path, &d.JobID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "store.document", "document not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	d.CreatedAt = time.UnixMilli(created)
	return &d, nil
}

// DeleteDocument removes a document row and its sessions.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE document_id = ?)`,
			`DELETE FROM sessions WHERE document_id = ?`,
			`DELETE FROM documents WHERE id = ?`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("store: delete document: %w", err)
			}
		}
		return nil
	})
}

// CreateSession inserts a session with zero turns used.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt, sess.TurnCount = now, now, 0
	const q = `INSERT INTO sessions (id, document_id, pdf_name, turn_count, turn_limit, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sess.ID, sess.DocumentID, sess.PDFName, sess.TurnLimit, now.UnixMilli(), now.UnixMilli()); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT id, document_id, pdf_name, turn_count, turn_limit, created_at, updated_at FROM sessions WHERE id = ?`
	var sess Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&sess.ID, &sess.DocumentID, &sess.PDFName, &sess.TurnCount, &sess.TurnLimit, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "store.session", "session not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	sess.CreatedAt, sess.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
	return &sess, nil
}

// ReserveTurn atomically consumes one turn of the session and records the
// user's message. It fails with apperr.LimitExceeded when every turn is used
// and apperr.NotFound when the session does not exist. The returned session
// reflects the new turn count.
func (s *SQLiteStore) ReserveTurn(ctx context.Context, sessionID, content string) (*Session, error) {
	now := s.now().UnixMilli()
	var sess Session
	var created, updated int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const reserve = `
UPDATE sessions SET turn_count = turn_count + 1, updated_at = ?
WHERE id = ? AND turn_count < turn_limit
RETURNING id, document_id, pdf_name, turn_count, turn_limit, created_at, updated_at`
		err := tx.QueryRowContext(ctx, reserve, now, sessionID).Scan(
			&sess.ID, &sess.DocumentID, &sess.PDFName, &sess.TurnCount, &sess.TurnLimit, &created, &updated)
		if errors.Is(err, sql.ErrNoRows) {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
				return fmt.Errorf("store: reserve turn: %w", err)
			}
			if exists == 0 {
				return apperr.E(apperr.NotFound, "store.session", "session not found", nil)
			}
			return apperr.E(apperr.LimitExceeded, "store.session", "message limit reached for this session", nil)
		}
		if err != nil {
			return fmt.Errorf("store: reserve turn: %w", err)
		}
		return s.appendTx(ctx, tx, sessionID, RoleUser, content, now)
	})
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, sess.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
	return &sess, nil
}

// Append persists a single message for the given session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.appendTx(ctx, tx, sessionID, role, content, s.now().UnixMilli())
	})
}

func (s *SQLiteStore) appendTx(ctx context.Context, tx *sql.Tx, sessionID string, role Role, content string, at int64) error {
	const q = `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, sessionID, string(role), content, at); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Messages returns every message of the session, oldest first.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	const q = `SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: messages scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.UnixMilli(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages rows: %w", err)
	}
	return msgs, nil
}

// DeleteSession discards the session and all of its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("store: delete session: %w", err)
		}
		if err := requireRow(res, "store.session", "session not found"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("store: delete session messages: %w", err)
		}
		return nil
	})
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name identifies the store in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// inTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, op, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return apperr.E(apperr.NotFound, op, msg, nil)
	}
	return nil
}
