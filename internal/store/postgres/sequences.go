package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

// recentMessagesLimit bounds how much conversation history the sequencer inspects per tick.
const recentMessagesLimit = 50

// SequenceRepo persists follow-up sequences.
type SequenceRepo struct {
	db *sql.DB
}

const sequenceColumns = `id, conversation_id, tenant_id, sequence_type, messages, current_step,
	max_steps, started_at, status, stop_reason, next_run_at, updated_at`

// LoadPending returns active sequences whose next run is due, ordered by id.
func (r *SequenceRepo) LoadPending(ctx context.Context, now time.Time, limit int) ([]store.FollowUpSequence, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + sequenceColumns + `
		FROM follow_up_sequences
		WHERE status = $1 AND (next_run_at IS NULL OR next_run_at <= $2)
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, store.SequenceStatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending sequences: %w", err)
	}
	defer rows.Close()

	var seqs []store.FollowUpSequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, *seq)
	}

	return seqs, rows.Err()
}

// Save writes the mutable columns of a sequence. Only an active row is
// updated, so a stopped or completed sequence is never revived; a save that
// matches no active row returns store.ErrNotActive, or store.ErrNotFound if
// the row does not exist.
func (r *SequenceRepo) Save(ctx context.Context, seq *store.FollowUpSequence) error {
	seq.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE follow_up_sequences
		SET current_step = $1, status = $2, stop_reason = $3, next_run_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`, seq.CurrentStep, seq.Status, seq.StopReason, seq.NextRunAt, seq.UpdatedAt, seq.ID, store.SequenceStatusActive)
	if err != nil {
		return fmt.Errorf("save sequence %s: %w", seq.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save sequence %s: %w", seq.ID, err)
	}
	if n > 0 {
		return nil
	}

	var current store.SequenceStatus
	err = r.db.QueryRowContext(ctx, "SELECT status FROM follow_up_sequences WHERE id = $1", seq.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save sequence %s: %w", seq.ID, err)
	}
	return fmt.Errorf("%w: %s is %s", store.ErrNotActive, seq.ID, current)
}

// CreateSequence inserts a new sequence.
func (r *SequenceRepo) CreateSequence(ctx context.Context, seq *store.FollowUpSequence) error {
	msgs, err := json.Marshal(seq.Messages)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO follow_up_sequences
			(id, conversation_id, tenant_id, sequence_type, messages, current_step, max_steps, started_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		seq.ID,
		seq.ConversationID,
		seq.TenantID,
		seq.SequenceType,
		msgs,
		seq.CurrentStep,
		seq.MaxSteps,
		seq.StartedAt,
		seq.Status,
		seq.StartedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrActiveSequenceExists
	}
	return err
}

// GetSequence returns a sequence by id.
func (r *SequenceRepo) GetSequence(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+sequenceColumns+" FROM follow_up_sequences WHERE id = $1", id)
	seq, err := scanSequence(row)
	if err != nil {
		return nil, notFound(err)
	}
	return seq, nil
}

// LoadRecentMessages returns the latest messages of a conversation, oldest first.
func (r *SequenceRepo) LoadRecentMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	query := `
		SELECT id, conversation_id, tenant_id, direction, text, source, sent_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, recentMessagesLimit)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.Text, &m.Source, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// ConversationStatus returns the synced status of a conversation.
// A conversation that is no longer known is reported as closed.
func (r *SequenceRepo) ConversationStatus(ctx context.Context, conversationID string) (store.ConversationStatus, error) {
	var status store.ConversationStatus
	err := r.db.QueryRowContext(ctx, "SELECT status FROM conversations WHERE id = $1", conversationID).Scan(&status)
	if err == sql.ErrNoRows {
		return store.ConversationClosed, nil
	}
	if err != nil {
		return "", fmt.Errorf("conversation status %s: %w", conversationID, err)
	}
	return status, nil
}

// AppendMessage records an outbound message in the conversation history.
func (r *SequenceRepo) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, tenant_id, direction, text, source, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.TenantID, msg.Direction, msg.Text, msg.Source, msg.SentAt)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSequence(row rowScanner) (*store.FollowUpSequence, error) {
	var (
		seq  store.FollowUpSequence
		msgs []byte
	)
	if err := row.Scan(
		&seq.ID, &seq.ConversationID, &seq.TenantID, &seq.SequenceType, &msgs, &seq.CurrentStep,
		&seq.MaxSteps, &seq.StartedAt, &seq.Status, &seq.StopReason, &seq.NextRunAt, &seq.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(msgs, &seq.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of sequence %s: %w", seq.ID, err)
	}
	return &seq, nil
}
