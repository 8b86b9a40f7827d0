package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/config"
)

// maxErrorLen caps the stored last_error text, in bytes.
const maxErrorLen = 2000

// truncateError cuts msg to at most maxErrorLen bytes on a rune boundary.
func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// Config holds the queue tunables.
type Config struct {
	// MaxAttempts is the number of deliveries before a job is dead-lettered (default: 5).
	MaxAttempts int
	// VisibilityTimeout is how long a claim hides a job (default: 5m).
	VisibilityTimeout time.Duration
	// BackoffInitial is the delay before the first retry (default: 2s).
	BackoffInitial time.Duration
	// BackoffMax caps the retry delay (default: 5m).
	BackoffMax time.Duration
	// Jitter is the randomisation factor applied to each delay (default: 0.2).
	Jitter float64
	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// ConfigFromEnv reads QUEUE_MAX_ATTEMPTS, QUEUE_VISIBILITY_TIMEOUT,
// QUEUE_BACKOFF_INITIAL and QUEUE_BACKOFF_MAX.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	var err error
	if cfg.MaxAttempts, err = config.Int("QUEUE_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.VisibilityTimeout, err = config.Duration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.BackoffInitial, err = config.Duration("QUEUE_BACKOFF_INITIAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BackoffMax, err = config.Duration("QUEUE_BACKOFF_MAX", 5*time.Minute); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) withDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SQLiteQueue implements Queue on the shared SQLite database.
type SQLiteQueue struct {
	db  *sql.DB
	cfg Config
}

// NewSQLite wraps db and runs the jobs table migration.
func NewSQLite(db *sql.DB, cfg Config) (*SQLiteQueue, error) {
	cfg.withDefaults()
	q := &SQLiteQueue{db: db, cfg: cfg}
	if err := q.migrate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Config returns the resolved configuration.
func (q *SQLiteQueue) Config() Config { return q.cfg }

func (q *SQLiteQueue) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,  -- FIFO order
    id               TEXT    NOT NULL UNIQUE,
    payload          TEXT    NOT NULL,
    state            TEXT    NOT NULL CHECK(state IN ('pending','claimed','completed','dead')),
    attempt          INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL,
    available_at     INTEGER NOT NULL,  -- Unix milliseconds
    lease_token      TEXT    NOT NULL DEFAULT '',
    lease_expires_at INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT    NOT NULL DEFAULT '',
    enqueued_at      INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state_available ON jobs (state, available_at, seq);
`
	if _, err := q.db.Exec(ddl); err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

// Enqueue inserts a pending job that is immediately available.
func (q *SQLiteQueue) Enqueue(ctx context.Context, p Payload) (*Job, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal payload: %w", err)
	}
	now := q.cfg.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Payload:     p,
		State:       StatePending,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  now,
		AvailableAt: now,
		UpdatedAt:   now,
	}
	const stmt = `INSERT INTO jobs (id, payload, state, attempt, max_attempts, available_at, enqueued_at, updated_at)
VALUES (?, ?, 'pending', 0, ?, ?, ?, ?)`
	ms := now.UnixMilli()
	if _, err := q.db.ExecContext(ctx, stmt, job.ID, string(body), job.MaxAttempts, ms, ms, ms); err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return job, nil
}

// Claim leases the oldest eligible job: pending and available, or claimed
// with an expired lease. Expired claims that already used every attempt
// are dead-lettered first so they are never delivered again.
func (q *SQLiteQueue) Claim(ctx context.Context) (*Lease, error) {
	now := q.cfg.Now()
	ms := now.UnixMilli()
	token := uuid.NewString()
	expires := now.Add(q.cfg.VisibilityTimeout)

	var (
		lease   Lease
		payload string
		times   [3]int64
	)
	err := q.inTx(ctx, func(tx *sql.Tx) error {
		const reap = `
UPDATE jobs SET state = 'dead', lease_token = '', updated_at = ?,
    last_error = CASE WHEN last_error = '' THEN 'visibility timeout expired' ELSE last_error END
WHERE state = 'claimed' AND lease_expires_at <= ? AND attempt >= max_attempts`
		if _, err := tx.ExecContext(ctx, reap, ms, ms); err != nil {
			return fmt.Errorf("queue: reap expired: %w", err)
		}

		const claim = `
UPDATE jobs SET state = 'claimed', attempt = attempt + 1, lease_token = ?, lease_expires_at = ?, updated_at = ?
WHERE seq = (
    SELECT seq FROM jobs
    WHERE (state = 'pending' AND available_at <= ?)
       OR (state = 'claimed' AND lease_expires_at <= ?)
    ORDER BY seq
    LIMIT 1
)
RETURNING id, payload, attempt, max_attempts, last_error, enqueued_at, available_at, updated_at`
		j := &lease.Job
		err := tx.QueryRowContext(ctx, claim, token, expires.UnixMilli(), ms, ms, ms).Scan(
			&j.ID, &payload, &j.Attempt, &j.MaxAttempts, &j.LastError, &times[0], &times[1], &times[2])
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEmpty
		}
		if err != nil {
			return fmt.Errorf("queue: claim: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &lease.Job.Payload); err != nil {
		return nil, fmt.Errorf("queue: decode payload of %s: %w", lease.Job.ID, err)
	}
	lease.Job.State = StateClaimed
	lease.Job.EnqueuedAt = time.UnixMilli(times[0])
	lease.Job.AvailableAt = time.UnixMilli(times[1])
	lease.Job.UpdatedAt = time.UnixMilli(times[2])
	lease.Token = token
	lease.ExpiresAt = expires
	return &lease, nil
}

// Ack marks the job completed if the lease still owns it.
func (q *SQLiteQueue) Ack(ctx context.Context, l *Lease) error {
	const stmt = `UPDATE jobs SET state = 'completed', lease_token = '', last_error = '', updated_at = ?
WHERE id = ? AND lease_token = ? AND state = 'claimed'`
	res, err := q.db.ExecContext(ctx, stmt, q.cfg.Now().UnixMilli(), l.Job.ID, l.Token)
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", l.Job.ID, err)
	}
	return leaseRow(res, l.Job.ID)
}

// Nack releases the lease, rescheduling or dead-lettering the job.
func (q *SQLiteQueue) Nack(ctx context.Context, l *Lease, cause error, retryable bool) (State, error) {
	now := q.cfg.Now()
	msg := ""
	if cause != nil {
		msg = truncateError(cause.Error())
	}
	availableAt := now.Add(q.RetryDelay(l.Job.Attempt))

	const stmt = `
UPDATE jobs SET
    state = CASE WHEN ? AND attempt < max_attempts THEN 'pending' ELSE 'dead' END,
    available_at = ?, last_error = ?, lease_token = '', updated_at = ?
WHERE id = ? AND lease_token = ? AND state = 'claimed'
RETURNING state`
	var state string
	err := q.db.QueryRowContext(ctx, stmt, retryable, availableAt.UnixMilli(), msg, now.UnixMilli(), l.Job.ID, l.Token).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrLeaseLost, l.Job.ID)
	}
	if err != nil {
		return "", fmt.Errorf("queue: nack %s: %w", l.Job.ID, err)
	}
	return State(state), nil
}

// Extend pushes the lease expiry to now+d.
func (q *SQLiteQueue) Extend(ctx context.Context, l *Lease, d time.Duration) error {
	expires := q.cfg.Now().Add(d)
	const stmt = `UPDATE jobs SET lease_expires_at = ? WHERE id = ? AND lease_token = ? AND state = 'claimed'`
	res, err := q.db.ExecContext(ctx, stmt, expires.UnixMilli(), l.Job.ID, l.Token)
	if err != nil {
		return fmt.Errorf("queue: extend %s: %w", l.Job.ID, err)
	}
	if err := leaseRow(res, l.Job.ID); err != nil {
		return err
	}
	l.ExpiresAt = expires
	return nil
}

// RetryDelay is the backoff before redelivering after the given attempt:
// exponential from BackoffInitial, doubling, capped at BackoffMax, with jitter.
func (q *SQLiteQueue) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffInitial
	b.MaxInterval = q.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = q.cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Get returns the job with the given id.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "queue.get", "job not found", nil)
	}
	return j, err
}

// List returns up to limit jobs in the given state (all states when empty),
// newest first.
func (q *SQLiteQueue) List(ctx context.Context, state State, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := selectJob+` ORDER BY seq DESC LIMIT ?`, []any{limit}
	if state != "" {
		query, args = selectJob+` WHERE state = ? ORDER BY seq DESC LIMIT ?`, []any{string(state), limit}
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: list rows: %w", err)
	}
	return jobs, nil
}

// Requeue moves a dead job back to pending with its attempts reset.
func (q *SQLiteQueue) Requeue(ctx context.Context, id string) error {
	ms := q.cfg.Now().UnixMilli()
	const stmt = `UPDATE jobs SET state = 'pending', attempt = 0, available_at = ?, updated_at = ?
WHERE id = ? AND state = 'dead'`
	res, err := q.db.ExecContext(ctx, stmt, ms, ms, id)
	if err != nil {
		return fmt.Errorf("queue: requeue %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: requeue %s: %w", id, err)
	}
	if n == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return err
		}
		return apperr.Validationf("queue.requeue", "job %s is not dead-lettered", id)
	}
	return nil
}

// Stats returns the number of jobs in each state.
func (q *SQLiteQueue) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	defer rows.Close()

	stats := map[State]int{StatePending: 0, StateClaimed: 0, StateCompleted: 0, StateDead: 0}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("queue: stats scan: %w", err)
		}
		stats[State(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: stats rows: %w", err)
	}
	return stats, nil
}

const selectJob = `SELECT id, payload, state, attempt, max_attempts, last_error, enqueued_at, available_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		j       Job
		payload string
		state   string
		t       [3]int64
	)
	if err := s.Scan(&j.ID, &payload, &state, &j.Attempt, &j.MaxAttempts, &j.LastError, &t[0], &t[1], &t[2]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("queue: scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("queue: decode payload of %s: %w", j.ID, err)
	}
	j.State = State(state)
	j.EnqueuedAt, j.AvailableAt, j.UpdatedAt = time.UnixMilli(t[0]), time.UnixMilli(t[1]), time.UnixMilli(t[2])
	return &j, nil
}

func (q *SQLiteQueue) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit: %w", err)
	}
	return nil
}

func leaseRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, id)
	}
	return nil
}
