package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TenantRepository lists the seller accounts the sync jobs fan out over.
type TenantRepository interface {
	ListAll(ctx context.Context, filter TenantFilter) ([]Tenant, error)
}

// SequenceRepository persists follow-up sequences and reads the conversations they run in.
type SequenceRepository interface {
	// LoadPending returns active sequences due at now, ordered by id.
	LoadPending(ctx context.Context, now time.Time, limit int) ([]FollowUpSequence, error)

	// Save writes the mutable state of a sequence.
	Save(ctx context.Context, seq *FollowUpSequence) error

	// LoadRecentMessages returns the recent messages of a conversation, oldest first.
	LoadRecentMessages(ctx context.Context, conversationID string) ([]Message, error)

	// ConversationStatus returns the externally owned status of a conversation.
	ConversationStatus(ctx context.Context, conversationID string) (ConversationStatus, error)
}

// SequenceAdmin covers the operator-facing sequence operations.
type SequenceAdmin interface {
	// CreateSequence inserts a new active sequence.
	// Returns ErrActiveSequenceExists if the conversation already has one.
	CreateSequence(ctx context.Context, seq *FollowUpSequence) error

	// GetSequence returns a sequence by id.
	GetSequence(ctx context.Context, id uuid.UUID) (*FollowUpSequence, error)
}

// MessageLog appends outbound messages to the conversation history.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg *Message) error
}

// BackfillRepository persists backfill jobs.
type BackfillRepository interface {
	// LoadPending returns unfinished jobs (pending or processing), oldest first.
	LoadPending(ctx context.Context, limit int) ([]BackfillJob, error)

	// Save writes the mutable state of a job.
	Save(ctx context.Context, job *BackfillJob) error
}

// BackfillAdmin covers the operator-facing backfill operations.
type BackfillAdmin interface {
	EnqueueBackfill(ctx context.Context, job *BackfillJob) error
	GetBackfill(ctx context.Context, id uuid.UUID) (*BackfillJob, error)
}

// RunLogStore records job runs for operators.
type RunLogStore interface {
	RecordRun(ctx context.Context, run *JobRunLog) error
}
