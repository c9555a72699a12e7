// Package store contains the database layer for sellerpilot.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNotActive is returned when a sequence save lost a race with a stop, cancel or completion.
	ErrNotActive = errors.New("store: sequence is no longer active")

	// ErrActiveSequenceExists is returned when a conversation already has an active follow-up sequence.
	ErrActiveSequenceExists = errors.New("store: conversation already has an active sequence")
)

// Tenant represents one seller account whose data is synced independently.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// TenantFilter narrows TenantRepository.ListAll.
type TenantFilter struct {
	ActiveOnly bool
	IDs        []uuid.UUID
}

// SequenceStatus represents the state of a follow-up sequence.
type SequenceStatus string

const (
	SequenceStatusActive    SequenceStatus = "active"
	SequenceStatusStopped   SequenceStatus = "stopped"
	SequenceStatusCompleted SequenceStatus = "completed"
)

// StopReason explains why a sequence was stopped.
type StopReason string

const (
	StopReasonPeerReplied   StopReason = "peer_replied"
	StopReasonStateChanged  StopReason = "state_changed"
	StopReasonCancelled     StopReason = "cancelled"
	StopReasonMisconfigured StopReason = "misconfigured"
)

// SequenceType selects the message set and the terminal message of a sequence.
type SequenceType string

const (
	SequenceTypeNoReplyNudge  SequenceType = "no_reply_nudge"
	SequenceTypeReviewRequest SequenceType = "review_request"
)

// SequenceMessage is one scheduled step of a follow-up sequence.
type SequenceMessage struct {
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
}

// FollowUpSequence is a per-conversation automation that sends a bounded series of messages.
type FollowUpSequence struct {
	ID             uuid.UUID
	ConversationID string
	TenantID       uuid.UUID
	SequenceType   SequenceType
	Messages       []SequenceMessage
	CurrentStep    int
	MaxSteps       int
	StartedAt      time.Time
	Status         SequenceStatus
	StopReason     *StopReason
	NextRunAt      *time.Time // set when a tick was skipped; nil means due now
	UpdatedAt      time.Time
}

// Stop moves the sequence to the stopped state.
func (s *FollowUpSequence) Stop(reason StopReason) {
	s.Status = SequenceStatusStopped
	s.StopReason = &reason
	s.NextRunAt = nil
}

// Complete moves the sequence to the completed state.
func (s *FollowUpSequence) Complete() {
	s.Status = SequenceStatusCompleted
	s.NextRunAt = nil
}

// MessageDirection tells whether a conversation message came from the peer or from the seller.
type MessageDirection string

const (
	MessageIncoming MessageDirection = "incoming"
	MessageOutgoing MessageDirection = "outgoing"
)

// Message is one message of a marketplace conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID string
	TenantID       uuid.UUID
	Direction      MessageDirection
	Text           string
	Source         string // "sequence", "manual", "sync"
	SentAt         time.Time
}

// ConversationStatus is the externally owned state of a conversation.
type ConversationStatus string

const (
	ConversationAwaitingReply ConversationStatus = "awaiting_reply"
	ConversationOpen          ConversationStatus = "open"
	ConversationClosed        ConversationStatus = "closed"
	ConversationReassigned    ConversationStatus = "reassigned"
)

// PermitsAutomation reports whether follow-ups may still be sent into the conversation.
func (s ConversationStatus) PermitsAutomation() bool {
	return s == ConversationAwaitingReply
}

// BackfillStatus represents the state of a backfill job.
type BackfillStatus string

const (
	BackfillStatusPending    BackfillStatus = "pending"
	BackfillStatusProcessing BackfillStatus = "processing"
	BackfillStatusCompleted  BackfillStatus = "completed"
	BackfillStatusFailed     BackfillStatus = "failed"
)

// BackfillJob is a request to generate TargetCount artifacts for a tenant.
type BackfillJob struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Status         BackfillStatus
	ProcessedCount int
	TargetCount    int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns how many artifacts are still owed.
func (j *BackfillJob) Remaining() int {
	if r := j.TargetCount - j.ProcessedCount; r > 0 {
		return r
	}
	return 0
}

// RunOutcome is the result of one job run.
type RunOutcome string

const (
	RunOutcomeOK      RunOutcome = "ok"
	RunOutcomeError   RunOutcome = "error"
	RunOutcomeSkipped RunOutcome = "skipped"
)

// JobRunLog records one execution (or skip) of a named job.
type JobRunLog struct {
	ID         int64
	Job        string
	RunID      uuid.UUID
	Outcome    RunOutcome
	Error      *string
	StartedAt  time.Time
	FinishedAt time.Time
}
