package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sellerpilot/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory SequenceRepository, MessageLog and AdminStore.
type memRepo struct {
	mu       sync.Mutex
	seqs     map[uuid.UUID]*store.FollowUpSequence
	messages map[string][]store.Message
	status   map[string]store.ConversationStatus
	saveErr  error
	loadErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		seqs:     make(map[uuid.UUID]*store.FollowUpSequence),
		messages: make(map[string][]store.Message),
		status:   make(map[string]store.ConversationStatus),
	}
}

func (m *memRepo) add(seq store.FollowUpSequence) *store.FollowUpSequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := seq
	m.seqs[s.ID] = &s
	if _, ok := m.status[s.ConversationID]; !ok {
		m.status[s.ConversationID] = store.ConversationAwaitingReply
	}
	return &s
}

func (m *memRepo) get(id uuid.UUID) store.FollowUpSequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.seqs[id]
}

func (m *memRepo) LoadPending(_ context.Context, now time.Time, limit int) ([]store.FollowUpSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []store.FollowUpSequence
	for _, s := range m.seqs {
		if s.Status != store.SequenceStatusActive {
			continue
		}
		if s.NextRunAt != nil && s.NextRunAt.After(now) {
			continue
		}
		out = append(out, *s)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Save(_ context.Context, seq *store.FollowUpSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cur, ok := m.seqs[seq.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != store.SequenceStatusActive {
		return store.ErrNotActive
	}
	s := *seq
	m.seqs[seq.ID] = &s
	return nil
}

func (m *memRepo) LoadRecentMessages(_ context.Context, conversationID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.messages[conversationID]...), nil
}

func (m *memRepo) ConversationStatus(_ context.Context, conversationID string) (store.ConversationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.status[conversationID]; ok {
		return st, nil
	}
	return store.ConversationClosed, nil
}

func (m *memRepo) AppendMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *memRepo) CreateSequence(_ context.Context, seq *store.FollowUpSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seqs {
		if s.ConversationID == seq.ConversationID && s.Status == store.SequenceStatusActive {
			return store.ErrActiveSequenceExists
		}
	}
	s := *seq
	m.seqs[s.ID] = &s
	return nil
}

func (m *memRepo) GetSequence(_ context.Context, id uuid.UUID) (*store.FollowUpSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seqs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type sent struct {
	conversation string
	text         string
	at           time.Time
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	closed  []string
	sendErr error
	// beforeSend runs ahead of every send, outside the lock.
	beforeSend func(conversationID string)
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ uuid.UUID, conversationID, text string) error {
	if f.beforeSend != nil {
		f.beforeSend(conversationID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{conversation: conversationID, text: text, at: time.Now()})
	return nil
}

func (f *fakeMessenger) CloseConversation(_ context.Context, _ uuid.UUID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, conversationID)
	return nil
}

var operatingZone = time.FixedZone("UTC+3", 3*3600)

// noon is inside the 9-21 active window.
var noon = time.Date(2024, 6, 12, 12, 0, 0, 0, operatingZone)

func newSequencer(t *testing.T, repo *memRepo, msgr *fakeMessenger, now time.Time) *Sequencer {
	t.Helper()
	s, err := New(repo, repo, msgr, Config{
		ActiveFrom: 9,
		ActiveTo:   21,
		Location:   operatingZone,
		BatchLimit: 100,
		Now:        func() time.Time { return now },
		IntN:       func(n int) int { return n - 1 },
	})
	require.NoError(t, err)
	return s
}

func nudge(step, max int) store.FollowUpSequence {
	msgs := make([]store.SequenceMessage, max)
	for i := range msgs {
		msgs[i] = store.SequenceMessage{StepIndex: i, Text: "follow-up " + string(rune('A'+i))}
	}
	return store.FollowUpSequence{
		ID:             uuid.New(),
		ConversationID: "conv-" + uuid.NewString()[:8],
		TenantID:       uuid.New(),
		SequenceType:   store.SequenceTypeNoReplyNudge,
		Messages:       msgs,
		CurrentStep:    step,
		MaxSteps:       max,
		StartedAt:      noon.Add(-72 * time.Hour),
		Status:         store.SequenceStatusActive,
	}
}

func TestTick_NormalAdvance(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(2, 5))

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeAdvanced])
	got := repo.get(seq.ID)
	assert.Equal(t, 3, got.CurrentStep)
	assert.Equal(t, store.SequenceStatusActive, got.Status)

	require.Len(t, msgr.sent, 1)
	assert.Equal(t, "follow-up C", msgr.sent[0].text)

	logged := repo.messages[seq.ConversationID]
	require.Len(t, logged, 1)
	assert.Equal(t, store.MessageOutgoing, logged[0].Direction)
	assert.Equal(t, MessageSource, logged[0].Source)
	assert.Equal(t, "follow-up C", logged[0].Text)
}

func TestTick_MaxStepsCompletesAndIsNotTickedAgain(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(3, 3))

	s := newSequencer(t, repo, msgr, noon)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outcomes[OutcomeCompleted])

	got := repo.get(seq.ID)
	assert.Equal(t, store.SequenceStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CurrentStep)
	require.Len(t, msgr.sent, 1)
	assert.Equal(t, DefaultTerminalMessages[store.SequenceTypeNoReplyNudge], msgr.sent[0].text)
	assert.Equal(t, []string{seq.ConversationID}, msgr.closed)

	res, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, msgr.sent, 1)
}

func TestTick_TerminalMessageDependsOnType(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := nudge(1, 1)
	seq.SequenceType = store.SequenceTypeReviewRequest
	repo.add(seq)

	_, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, msgr.sent, 1)
	assert.Equal(t, DefaultTerminalMessages[store.SequenceTypeReviewRequest], msgr.sent[0].text)
}

func TestTick_PeerRepliedStopsWithoutSending(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(1, 3))
	repo.messages[seq.ConversationID] = []store.Message{
		{Direction: store.MessageIncoming, SentAt: seq.StartedAt.Add(time.Hour), Text: "thanks, solved"},
	}

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomePeerReplied])
	got := repo.get(seq.ID)
	assert.Equal(t, store.SequenceStatusStopped, got.Status)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, store.StopReasonPeerReplied, *got.StopReason)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Empty(t, msgr.sent)
}

func TestTick_PeerMessageBeforeStartIsIgnored(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(0, 2))
	repo.messages[seq.ConversationID] = []store.Message{
		{Direction: store.MessageIncoming, SentAt: seq.StartedAt.Add(-time.Hour)},
	}

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outcomes[OutcomeAdvanced])
}

func TestTick_ExternalStateChangeStops(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(1, 3))
	repo.status[seq.ConversationID] = store.ConversationReassigned

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeStateChanged])
	got := repo.get(seq.ID)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, store.StopReasonStateChanged, *got.StopReason)
	assert.Empty(t, msgr.sent)
}

func TestTick_AlreadySentTodayReschedulesToNextDay(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	// Final step: the same-day collision must win over termination.
	seq := repo.add(nudge(3, 3))
	repo.messages[seq.ConversationID] = []store.Message{
		{Direction: store.MessageOutgoing, SentAt: noon.Add(-2 * time.Hour), Source: "manual"},
	}

	s := newSequencer(t, repo, msgr, noon)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeRescheduled])
	got := repo.get(seq.ID)
	assert.Equal(t, store.SequenceStatusActive, got.Status)
	assert.Equal(t, 3, got.CurrentStep)
	require.NotNil(t, got.NextRunAt)
	// IntN returns n-1: the last minute of tomorrow's window.
	assert.Equal(t, time.Date(2024, 6, 13, 20, 59, 0, 0, operatingZone), got.NextRunAt.In(operatingZone))
	assert.Empty(t, msgr.sent)

	// Still before the slot: not loaded.
	res, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
}

func TestTick_YesterdaysMessageDoesNotBlock(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(0, 2))
	// 23:30 local yesterday.
	repo.messages[seq.ConversationID] = []store.Message{
		{Direction: store.MessageOutgoing, SentAt: time.Date(2024, 6, 11, 23, 30, 0, 0, operatingZone)},
	}

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outcomes[OutcomeAdvanced])
}

func TestTick_OutsideWindowIsNoop(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := repo.add(nudge(0, 2))

	for _, hour := range []int{8, 21, 23, 3} {
		now := time.Date(2024, 6, 12, hour, 0, 0, 0, operatingZone)
		res, err := newSequencer(t, repo, msgr, now).Tick(context.Background())
		require.NoError(t, err)
		assert.True(t, res.OutsideWindow, "hour %d", hour)
	}

	assert.Equal(t, 0, repo.get(seq.ID).CurrentStep)
	assert.Empty(t, msgr.sent)
}

func TestTick_SendFailureStillAdvances(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{sendErr: errors.New("429 too many requests")}
	seq := repo.add(nudge(0, 2))

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeAdvanced])
	assert.Equal(t, 1, repo.get(seq.ID).CurrentStep)
	assert.Empty(t, repo.messages[seq.ConversationID])
}

func TestTick_MissingStepTextIsMisconfigured(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	seq := nudge(1, 3)
	seq.Messages = seq.Messages[:1]
	repo.add(seq)

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeMisconfigured])
	got := repo.get(seq.ID)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, store.StopReasonMisconfigured, *got.StopReason)
}

func TestTick_SaveFailureIsCountedAndTickContinues(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	repo.add(nudge(0, 2))
	repo.add(nudge(0, 2))
	repo.saveErr = errors.New("deadlock detected")

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Outcomes[OutcomeError])
}

func TestTick_CancelDuringTickIsNotUndone(t *testing.T) {
	repo := newMemRepo()
	seq := repo.add(nudge(1, 3))
	admin := NewAdmin(repo)
	msgr := &fakeMessenger{beforeSend: func(string) {
		_, err := admin.Cancel(context.Background(), seq.ID)
		require.NoError(t, err)
	}}

	res, err := newSequencer(t, repo, msgr, noon).Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Outcomes[OutcomeSuperseded])
	assert.Zero(t, res.Outcomes[OutcomeError])
	got := repo.get(seq.ID)
	assert.Equal(t, store.SequenceStatusStopped, got.Status)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, store.StopReasonCancelled, *got.StopReason)
	assert.Equal(t, 1, got.CurrentStep)
}

func TestTick_InterruptedPacingKeepsStep(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	a := repo.add(nudge(0, 2))
	b := repo.add(nudge(0, 2))

	s, err := New(repo, repo, msgr, Config{
		ActiveFrom:   9,
		ActiveTo:     21,
		Location:     operatingZone,
		SendInterval: time.Hour,
		Now:          func() time.Time { return noon },
	})
	require.NoError(t, err)

	// The second send slot lies past the deadline, so its wait fails at once.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, _ := s.Tick(ctx)

	assert.Equal(t, 1, res.Outcomes[OutcomeAdvanced])
	assert.Equal(t, 1, res.Outcomes[OutcomeError])
	require.Len(t, msgr.sent, 1)

	steps := map[string]int{
		repo.get(a.ID).ConversationID: repo.get(a.ID).CurrentStep,
		repo.get(b.ID).ConversationID: repo.get(b.ID).CurrentStep,
	}
	for conv, step := range steps {
		if conv == msgr.sent[0].conversation {
			assert.Equal(t, 1, step, "sent sequence advances")
		} else {
			assert.Equal(t, 0, step, "unsent sequence keeps its step")
		}
	}
}

func TestTick_LoadFailureFailsTick(t *testing.T) {
	repo := newMemRepo()
	repo.loadErr = errors.New("db down")

	_, err := newSequencer(t, repo, &fakeMessenger{}, noon).Tick(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestTick_SendsArePacedAndSequential(t *testing.T) {
	repo := newMemRepo()
	msgr := &fakeMessenger{}
	for i := 0; i < 3; i++ {
		repo.add(nudge(0, 2))
	}

	s, err := New(repo, repo, msgr, Config{
		ActiveFrom:   9,
		ActiveTo:     21,
		Location:     operatingZone,
		SendInterval: 40 * time.Millisecond,
		Now:          func() time.Time { return noon },
	})
	require.NoError(t, err)

	_, err = s.Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, msgr.sent, 3)
	for i := 1; i < len(msgr.sent); i++ {
		gap := msgr.sent[i].at.Sub(msgr.sent[i-1].at)
		assert.GreaterOrEqual(t, gap, 30*time.Millisecond)
	}
}

func TestNew_RejectsBadWindow(t *testing.T) {
	_, err := New(newMemRepo(), newMemRepo(), &fakeMessenger{}, Config{ActiveFrom: 21, ActiveTo: 9})
	assert.Error(t, err)
	_, err = New(newMemRepo(), newMemRepo(), &fakeMessenger{}, Config{ActiveFrom: 9, ActiveTo: 25})
	assert.Error(t, err)
}
