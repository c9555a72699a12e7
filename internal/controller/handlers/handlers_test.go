package handlers

import (
	"context"
	"sync"
	"time"

	"sellerpilot/internal/scheduler"
	"sellerpilot/internal/sequencer"
	"sellerpilot/internal/store"

	"github.com/google/uuid"
)

// Mock Store
type mockStore struct {
	pingErr error

	enqueueErr  error
	getResp     *store.BackfillJob
	getErr      error
	enqueued    []*store.BackfillJob
	capturedGet uuid.UUID
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) EnqueueBackfill(ctx context.Context, job *store.BackfillJob) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockStore) GetBackfill(ctx context.Context, id uuid.UUID) (*store.BackfillJob, error) {
	m.capturedGet = id
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getResp, nil
}

// Mock job registry
type mockJobs struct {
	statuses   []scheduler.JobStatus
	started    bool
	triggerErr error

	mu        sync.Mutex
	triggered []string
}

func (m *mockJobs) Status() []scheduler.JobStatus { return m.statuses }

func (m *mockJobs) Trigger(name string) (bool, error) {
	m.mu.Lock()
	m.triggered = append(m.triggered, name)
	m.mu.Unlock()
	return m.started, m.triggerErr
}

// Mock sequence service
type mockSequences struct {
	seq       *store.FollowUpSequence
	startErr  error
	cancelErr error
	getErr    error

	capturedStart sequencer.StartRequest
}

func (m *mockSequences) Start(ctx context.Context, req sequencer.StartRequest) (*store.FollowUpSequence, error) {
	m.capturedStart = req
	if m.startErr != nil {
		return nil, m.startErr
	}
	return m.seq, nil
}

func (m *mockSequences) Cancel(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return m.seq, nil
}

func (m *mockSequences) Get(ctx context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.seq, nil
}

func sampleSequence() *store.FollowUpSequence {
	return &store.FollowUpSequence{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		ConversationID: "conv-1",
		SequenceType:   store.SequenceTypeNoReplyNudge,
		Messages:       []store.SequenceMessage{{StepIndex: 0, Text: "Still interested?"}},
		MaxSteps:       1,
		StartedAt:      time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC),
		Status:         store.SequenceStatusActive,
	}
}
