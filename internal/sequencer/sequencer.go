// Package sequencer advances follow-up sequences: each tick walks the due
// sequences one by one, stops those the peer or an operator resolved, and
// sends at most one message per sequence.
package sequencer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"sellerpilot/internal/logger"
	"sellerpilot/internal/observability"
	"sellerpilot/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// JobName is the scheduler name of the sequencer tick.
const JobName = "follow_up_sequencer"

// MessageSource marks messages written by the sequencer in the conversation log.
const MessageSource = "sequence"

// DefaultTerminalMessages are sent when a sequence runs out of steps.
var DefaultTerminalMessages = map[store.SequenceType]string{
	store.SequenceTypeNoReplyNudge:  "We haven't heard back from you, so we are closing this chat for now. Write to us any time if you still need help.",
	store.SequenceTypeReviewRequest: "Thank you for shopping with us! If you have a minute, a review of your purchase would help us a lot.",
}

// Messenger sends messages into marketplace conversations.
type Messenger interface {
	SendMessage(ctx context.Context, tenantID uuid.UUID, conversationID, text string) error
	CloseConversation(ctx context.Context, tenantID uuid.UUID, conversationID string) error
}

// Config tunes a Sequencer.
type Config struct {
	// ActiveFrom and ActiveTo bound the active hours [from, to) in Location.
	ActiveFrom int
	ActiveTo   int
	Location   *time.Location
	// SendInterval is the minimum gap between two sends of the same tick.
	SendInterval     time.Duration
	BatchLimit       int
	TerminalMessages map[store.SequenceType]string
	Logger           *slog.Logger
	Metrics          *observability.Metrics
	Now              func() time.Time
	// IntN returns a uniform int in [0, n); used to spread rescheduled sequences.
	IntN func(n int) int
}

// Outcome is what one tick did to one sequence.
type Outcome string

const (
	OutcomePeerReplied   Outcome = "peer_replied"
	OutcomeStateChanged  Outcome = "state_changed"
	OutcomeRescheduled   Outcome = "rescheduled"
	OutcomeCompleted     Outcome = "completed"
	OutcomeAdvanced      Outcome = "advanced"
	OutcomeMisconfigured Outcome = "misconfigured"
	// OutcomeSuperseded means the sequence was stopped elsewhere while the tick held it.
	OutcomeSuperseded Outcome = "superseded"
	OutcomeError         Outcome = "error"
)

// TickResult counts the outcomes of one tick.
type TickResult struct {
	OutsideWindow bool
	Processed     int
	Outcomes      map[Outcome]int
}

// Sequencer evaluates follow-up sequences.
type Sequencer struct {
	repo      store.SequenceRepository
	messages  store.MessageLog
	messenger Messenger
	cfg       Config
	limiter   *rate.Limiter
	log       *slog.Logger
	tracer    trace.Tracer
}

// New creates a sequencer.
func New(repo store.SequenceRepository, messages store.MessageLog, messenger Messenger, cfg Config) (*Sequencer, error) {
	if cfg.ActiveFrom < 0 || cfg.ActiveTo > 24 || cfg.ActiveFrom >= cfg.ActiveTo {
		return nil, fmt.Errorf("sequencer: invalid active window [%d, %d)", cfg.ActiveFrom, cfg.ActiveTo)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.TerminalMessages == nil {
		cfg.TerminalMessages = DefaultTerminalMessages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}

	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}

	return &Sequencer{
		repo:      repo,
		messages:  messages,
		messenger: messenger,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		log:       cfg.Logger.With("component", "sequencer"),
		tracer:    otel.Tracer("sellerpilot/sequencer"),
	}, nil
}

// Run is the scheduler job body.
func (s *Sequencer) Run(ctx context.Context) error {
	_, err := s.Tick(ctx)
	return err
}

// InWindow reports whether t falls inside the active hours.
func (s *Sequencer) InWindow(t time.Time) bool {
	h := t.In(s.cfg.Location).Hour()
	return h >= s.cfg.ActiveFrom && h < s.cfg.ActiveTo
}

// Tick evaluates every due sequence once, strictly one after another in id order.
// Per-sequence failures are logged and counted; only an unreadable queue fails the tick.
func (s *Sequencer) Tick(ctx context.Context) (TickResult, error) {
	res := TickResult{Outcomes: make(map[Outcome]int)}
	log := logger.FromContext(ctx, s.log)

	now := s.cfg.Now()
	if !s.InWindow(now) {
		res.OutsideWindow = true
		log.Debug("outside active hours, tick skipped", "hour", now.In(s.cfg.Location).Hour())
		return res, nil
	}

	ctx, span := s.tracer.Start(ctx, "sequencer.tick")
	defer span.End()

	seqs, err := s.repo.LoadPending(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("sequencer: load pending: %w", err)
	}
	sort.Slice(seqs, func(i, j int) bool { return bytes.Compare(seqs[i].ID[:], seqs[j].ID[:]) < 0 })

	for i := range seqs {
		if ctx.Err() != nil {
			break
		}
		seq := &seqs[i]
		outcome, err := s.advance(ctx, seq, now)
		if err != nil {
			log.Error("sequence tick failed", "sequence_id", seq.ID.String(), "conversation_id", seq.ConversationID, "error", err)
			outcome = OutcomeError
		}
		res.Processed++
		res.Outcomes[outcome]++
		s.cfg.Metrics.SequenceTransition(ctx, string(outcome))
	}

	span.SetAttributes(attribute.Int("sequencer.processed", res.Processed))
	log.Info("sequencer tick finished", "processed", res.Processed, "outcomes", res.Outcomes)
	return res, ctx.Err()
}

// advance applies the first matching rule to seq and persists the result.
func (s *Sequencer) advance(ctx context.Context, seq *store.FollowUpSequence, now time.Time) (Outcome, error) {
	log := logger.FromContext(ctx, s.log).With("sequence_id", seq.ID.String(), "conversation_id", seq.ConversationID)

	history, err := s.repo.LoadRecentMessages(ctx, seq.ConversationID)
	if err != nil {
		return OutcomeError, fmt.Errorf("load messages: %w", err)
	}

	if peerRepliedSince(history, seq.StartedAt) {
		seq.Stop(store.StopReasonPeerReplied)
		return s.save(ctx, seq, OutcomePeerReplied)
	}

	status, err := s.repo.ConversationStatus(ctx, seq.ConversationID)
	if err != nil {
		return OutcomeError, fmt.Errorf("conversation status: %w", err)
	}
	if !status.PermitsAutomation() {
		seq.Stop(store.StopReasonStateChanged)
		return s.save(ctx, seq, OutcomeStateChanged)
	}

	if s.sentToday(history, now) {
		next := s.nextDaySlot(now)
		seq.NextRunAt = &next
		log.Info("message already sent today, sequence rescheduled", "next_run_at", next)
		return s.save(ctx, seq, OutcomeRescheduled)
	}

	if seq.CurrentStep >= seq.MaxSteps {
		text, ok := s.cfg.TerminalMessages[seq.SequenceType]
		if !ok || text == "" {
			seq.Stop(store.StopReasonMisconfigured)
			return s.save(ctx, seq, OutcomeMisconfigured)
		}
		if err := s.send(ctx, seq, text, now); err != nil {
			return OutcomeError, err
		}
		if err := s.messenger.CloseConversation(ctx, seq.TenantID, seq.ConversationID); err != nil {
			log.Warn("failed to close conversation", "error", err)
		}
		seq.Complete()
		return s.save(ctx, seq, OutcomeCompleted)
	}

	text := stepText(seq)
	if text == "" {
		seq.Stop(store.StopReasonMisconfigured)
		return s.save(ctx, seq, OutcomeMisconfigured)
	}
	if err := s.send(ctx, seq, text, now); err != nil {
		return OutcomeError, err
	}
	seq.CurrentStep++
	seq.NextRunAt = nil
	return s.save(ctx, seq, OutcomeAdvanced)
}

// send paces, sends and logs one message. A failed send is not retried:
// the sequence moves on regardless so a retry can never double-send.
// Only an interrupted wait for the pacing slot is returned; nothing was sent then.
func (s *Sequencer) send(ctx context.Context, seq *store.FollowUpSequence, text string, now time.Time) error {
	log := logger.FromContext(ctx, s.log).With("sequence_id", seq.ID.String(), "conversation_id", seq.ConversationID)

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if err := s.messenger.SendMessage(ctx, seq.TenantID, seq.ConversationID, text); err != nil {
		log.Warn("failed to send follow-up message", "step", seq.CurrentStep, "error", err)
		return nil
	}

	msg := &store.Message{
		ConversationID: seq.ConversationID,
		TenantID:       seq.TenantID,
		Direction:      store.MessageOutgoing,
		Text:           text,
		Source:         MessageSource,
		SentAt:         now,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		log.Warn("failed to append message to conversation log", "error", err)
	}
	return nil
}

func (s *Sequencer) save(ctx context.Context, seq *store.FollowUpSequence, outcome Outcome) (Outcome, error) {
	err := s.repo.Save(ctx, seq)
	if errors.Is(err, store.ErrNotActive) {
		logger.FromContext(ctx, s.log).Info("sequence stopped concurrently, tick result discarded",
			"sequence_id", seq.ID.String(), "conversation_id", seq.ConversationID, "discarded", outcome)
		return OutcomeSuperseded, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("save sequence after %s: %w", outcome, err)
	}
	return outcome, nil
}

// sentToday reports whether the seller side sent anything on now's local date.
func (s *Sequencer) sentToday(history []store.Message, now time.Time) bool {
	y, m, d := now.In(s.cfg.Location).Date()
	for _, msg := range history {
		if msg.Direction != store.MessageOutgoing {
			continue
		}
		my, mm, md := msg.SentAt.In(s.cfg.Location).Date()
		if my == y && mm == m && md == d {
			return true
		}
	}
	return false
}

// nextDaySlot picks a uniformly random minute inside tomorrow's active window.
func (s *Sequencer) nextDaySlot(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.ActiveFrom, 0, 0, 0, s.cfg.Location)
	window := (s.cfg.ActiveTo - s.cfg.ActiveFrom) * 60
	return start.Add(time.Duration(s.cfg.IntN(window)) * time.Minute)
}

func peerRepliedSince(history []store.Message, since time.Time) bool {
	for _, msg := range history {
		if msg.Direction == store.MessageIncoming && msg.SentAt.After(since) {
			return true
		}
	}
	return false
}

// stepText returns the text scheduled for the current step, or "" if there is none.
func stepText(seq *store.FollowUpSequence) string {
	for _, m := range seq.Messages {
		if m.StepIndex == seq.CurrentStep {
			return m.Text
		}
	}
	return ""
}
