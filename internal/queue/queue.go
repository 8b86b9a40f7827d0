// Package queue is the durable, at-least-once job queue between the upload
// gateway and the ingestion workers. Jobs live in a SQLite table; a claim
// hides a job for a visibility timeout and hands the worker a lease token,
// and a job whose lease expires without Ack is delivered again. Jobs that
// exhaust their attempts are moved to the dead state for manual requeue.
package queue

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	// StatePending jobs are waiting for a worker (possibly until AvailableAt).
	StatePending State = "pending"
	// StateClaimed jobs are leased to a worker.
	StateClaimed State = "claimed"
	// StateCompleted jobs were acknowledged.
	StateCompleted State = "completed"
	// StateDead jobs exhausted their attempts or failed terminally.
	StateDead State = "dead"
)

var (
	// ErrEmpty is returned by Claim when no job is eligible.
	ErrEmpty = errors.New("queue: no job available")
	// ErrLeaseLost is returned when a lease token no longer owns its job,
	// because the visibility timeout expired and the job was redelivered.
	ErrLeaseLost = errors.New("queue: lease lost")
)

// Payload is the job body written by the upload gateway.
type Payload struct {
	// Filename is the stored object name.
	Filename string `json:"filename"`
	// Destination is the object store directory.
	Destination string `json:"destination"`
	// Path is Destination joined with Filename.
	Path string `json:"path"`
	// DocumentID identifies the document in the metadata store and vector index.
	DocumentID string `json:"documentId"`
}

// Job is a queued unit of ingestion work.
type Job struct {
	ID          string    `json:"id"`
	Payload     Payload   `json:"payload"`
	State       State     `json:"state"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	LastError   string    `json:"lastError,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	AvailableAt time.Time `json:"availableAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Lease is a worker's claim on one delivery of a job.
type Lease struct {
	// Job is the claimed job, with Attempt already incremented.
	Job Job
	// Token identifies this delivery; it is invalid once the job is redelivered.
	Token string
	// ExpiresAt is when the job becomes visible again unless extended.
	ExpiresAt time.Time
}

// Queue is the contract shared by the gateway (Enqueue) and the workers
// (Claim/Ack/Nack/Extend). Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue durably records a new job before returning.
	Enqueue(ctx context.Context, p Payload) (*Job, error)
	// Claim leases the oldest eligible job, or returns ErrEmpty.
	Claim(ctx context.Context) (*Lease, error)
	// Ack marks the leased job completed.
	Ack(ctx context.Context, l *Lease) error
	// Nack releases the lease. Retryable failures are rescheduled with
	// backoff until MaxAttempts; others are dead-lettered. Returns the new state.
	Nack(ctx context.Context, l *Lease, cause error, retryable bool) (State, error)
	// Extend pushes the lease expiry to now+d.
	Extend(ctx context.Context, l *Lease, d time.Duration) error
}
