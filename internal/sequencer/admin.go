package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

var (
	ErrInvalidSequence = errors.New("sequencer: invalid sequence")
	ErrNotActive       = errors.New("sequencer: sequence is not active")
)

// AdminStore is what the operator actions need from the store.
type AdminStore interface {
	store.SequenceAdmin
	Save(ctx context.Context, seq *store.FollowUpSequence) error
}

// StartRequest describes a new sequence.
type StartRequest struct {
	TenantID       uuid.UUID
	ConversationID string
	Type           store.SequenceType
	Messages       []string
	// MaxSteps defaults to len(Messages).
	MaxSteps int
}

// Admin starts and cancels sequences on behalf of operators.
type Admin struct {
	store AdminStore
	now   func() time.Time
}

// NewAdmin creates an Admin.
func NewAdmin(s AdminStore) *Admin {
	return &Admin{store: s, now: time.Now}
}

// Start creates an active sequence. A conversation that already has one
// yields store.ErrActiveSequenceExists.
func (a *Admin) Start(ctx context.Context, req StartRequest) (*store.FollowUpSequence, error) {
	if req.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidSequence)
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidSequence)
	}
	if _, ok := DefaultTerminalMessages[req.Type]; !ok {
		return nil, fmt.Errorf("%w: unknown sequence type %q", ErrInvalidSequence, req.Type)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidSequence)
	}
	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = len(req.Messages)
	}
	if maxSteps < 1 || maxSteps > len(req.Messages) {
		return nil, fmt.Errorf("%w: max steps must be between 1 and %d", ErrInvalidSequence, len(req.Messages))
	}

	msgs := make([]store.SequenceMessage, len(req.Messages))
	for i, text := range req.Messages {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: message %d is empty", ErrInvalidSequence, i)
		}
		msgs[i] = store.SequenceMessage{StepIndex: i, Text: text}
	}

	seq := &store.FollowUpSequence{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		SequenceType:   req.Type,
		Messages:       msgs,
		MaxSteps:       maxSteps,
		StartedAt:      a.now().UTC(),
		Status:         store.SequenceStatusActive,
	}
	if err := a.store.CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// Cancel stops an active sequence with reason cancelled. A sequence the
// sequencer completes or stops in the meantime yields ErrNotActive.
func (a *Admin) Cancel(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	seq, err := a.store.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq.Status != store.SequenceStatusActive {
		return seq, fmt.Errorf("%w: %s", ErrNotActive, seq.Status)
	}

	seq.Stop(store.StopReasonCancelled)
	err = a.store.Save(ctx, seq)
	if errors.Is(err, store.ErrNotActive) {
		return nil, fmt.Errorf("%w: %w", ErrNotActive, err)
	}
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// Get returns a sequence by id.
func (a *Admin) Get(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	return a.store.GetSequence(ctx, id)
}
