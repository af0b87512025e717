// Package reconciler keeps a client's per-conversation message log. Sends
// appear in the log immediately as pending entries and are replaced in
// place by their authoritative copies when the server's MessageInserted
// echo arrives. Echoes are matched by the client temp id they carry; when a
// server does not echo the token, the oldest pending entry is used instead.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/clock"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	defaultSendTimeout = 10 * time.Second
	historyPageSize    = 100
)

// Sender performs the authoritative send
type Sender interface {
	SendMessage(ctx context.Context, conversationID uint64, content, clientTempID string) (*domain.Message, error)
}

// MarkReader marks a conversation read for the local user
type MarkReader interface {
	MarkRead(ctx context.Context, conversationID uint64) error
}

// HistoryLoader fetches authoritative history, oldest first
type HistoryLoader interface {
	History(ctx context.Context, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error)
}

// Options configures a Reconciler
type Options struct {
	LocalUser   string
	Sender      Sender
	MarkReader  MarkReader    // optional
	History     HistoryLoader // optional
	SendTimeout time.Duration
	IdleTimeout time.Duration
	Clock       clock.Clock
}

// Reconciler owns the message logs of one local user. Each conversation's
// log is mutated only on that conversation's actor; callbacks run after the
// mutation, outside the actor.
type Reconciler struct {
	opts   Options
	gen    *clock.Generator
	actors *actor.Group
	bus    *EventBus
	log    zerolog.Logger

	mu   sync.Mutex
	logs map[uint64]*conversationState
}

type conversationState struct {
	log      *conversationLog
	inflight map[string]*inflightSend
}

type inflightSend struct {
	cancel context.CancelFunc
	send   *PendingSend
}

// New creates a Reconciler
func New(opts Options) (*Reconciler, error) {
	if opts.LocalUser == "" {
		return nil, fmt.Errorf("local user is required: %w", common.ErrInvalidInput)
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required: %w", common.ErrInvalidInput)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	log := logger.Component("reconciler").With().Str("user_id", opts.LocalUser).Logger()
	return &Reconciler{
		opts:   opts,
		gen:    clock.NewGenerator(opts.Clock),
		actors: actor.NewGroup(opts.IdleTimeout),
		bus:    NewEventBus(log),
		log:    log,
		logs:   make(map[uint64]*conversationState),
	}, nil
}

// PendingSend is the handle of one optimistic send. It resolves exactly
// once: with the authoritative message, or with the error that rolled the
// optimistic entry back.
type PendingSend struct {
	TempID         string
	ConversationID uint64

	once sync.Once
	done chan struct{}
	msg  *domain.Message
	err  error
}

func newPendingSend(conversationID uint64, tempID string) *PendingSend {
	return &PendingSend{TempID: tempID, ConversationID: conversationID, done: make(chan struct{})}
}

func (p *PendingSend) resolve(msg *domain.Message, err error) {
	p.once.Do(func() {
		p.msg, p.err = msg, err
		close(p.done)
	})
}

// Done is closed once the send resolved
func (p *PendingSend) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the send resolves or ctx ends
func (p *PendingSend) Wait(ctx context.Context) (*domain.Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func key(conversationID uint64) string {
	return strconv.FormatUint(conversationID, 10)
}

// state must only be called on the conversation's actor
func (r *Reconciler) state(conversationID uint64) *conversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.logs[conversationID]
	if !ok {
		st = &conversationState{
			log:      newConversationLog(conversationID, r.opts.LocalUser),
			inflight: make(map[string]*inflightSend),
		}
		r.logs[conversationID] = st
	}
	return st
}

// Send appends an optimistic entry and starts the authoritative send in the
// background. The returned handle carries the temp id immediately.
func (r *Reconciler) Send(ctx context.Context, conversationID uint64, content string) (*PendingSend, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content is empty: %w", common.ErrInvalidInput)
	}

	var (
		ps      *PendingSend
		sendCtx context.Context
	)
	err := r.actors.Do(ctx, key(conversationID), func() error {
		st := r.state(conversationID)
		tempID, at, seq := r.gen.Next()
		st.log.addPending(tempID, content, at, seq)

		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(context.Background(), r.opts.SendTimeout)
		ps = newPendingSend(conversationID, tempID)
		st.inflight[tempID] = &inflightSend{cancel: cancel, send: ps}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().Uint64("conversation_id", conversationID).Str("temp_id", ps.TempID).Msg("optimistic send")
	go r.deliver(sendCtx, ps, content)
	return ps, nil
}

// deliver performs the send and then acks or rolls back on the actor
func (r *Reconciler) deliver(ctx context.Context, ps *PendingSend, content string) {
	msg, sendErr := r.opts.Sender.SendMessage(ctx, ps.ConversationID, content, ps.TempID)
	if sendErr == nil && msg == nil {
		sendErr = errors.New("empty send response")
	}

	var (
		failed  *Message
		result  *domain.Message
		outcome error
		settled bool
	)
	err := r.actors.Do(context.Background(), key(ps.ConversationID), func() error {
		st := r.state(ps.ConversationID)
		f, ok := st.inflight[ps.TempID]
		if !ok {
			// cancelled while the send was in flight
			return nil
		}
		delete(st.inflight, ps.TempID)
		f.cancel()
		settled = true

		if sendErr == nil {
			st.log.ack(ps.TempID, msg.ID)
			result = msg
			return nil
		}

		if m := st.log.reconciled(ps.TempID); m != nil {
			// the echo proves the server stored it
			result = &domain.Message{ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID, Content: m.Content, CreatedAt: m.CreatedAt}
			return nil
		}

		for _, m := range st.log.entries {
			if m.TempID == ps.TempID {
				removed := *m
				failed = &removed
				break
			}
		}
		st.log.remove(ps.TempID)
		outcome = fmt.Errorf("%w: %v", common.ErrMessageSendFailed, sendErr)
		return nil
	})
	if err != nil {
		ps.resolve(nil, fmt.Errorf("%w: %v", common.ErrMessageSendFailed, err))
		return
	}
	if !settled {
		return
	}

	if outcome != nil {
		reason := "send_failed"
		if errors.Is(sendErr, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.ReconcilerRollbacks.WithLabelValues(reason).Inc()
		r.log.Warn().Err(sendErr).Uint64("conversation_id", ps.ConversationID).Str("temp_id", ps.TempID).
			Str("reason", reason).Msg("send failed, optimistic message rolled back")

		ev := Event{Topic: TopicSendFailed, ConversationID: ps.ConversationID, TempID: ps.TempID, Err: outcome}
		if failed != nil {
			ev.Message = *failed
		}
		ps.resolve(nil, outcome)
		r.bus.Publish(ev)
		return
	}
	ps.resolve(result, nil)
}

// Cancel aborts an in-flight send: the optimistic entry and its PendingSet
// entry are removed, and a late echo of the send is appended as a new
// message. A send whose echo was already applied cannot be cancelled.
func (r *Reconciler) Cancel(ctx context.Context, conversationID uint64, tempID string) error {
	var ps *PendingSend
	err := r.actors.Do(ctx, key(conversationID), func() error {
		st := r.state(conversationID)
		f, ok := st.inflight[tempID]
		if !ok {
			return fmt.Errorf("no in-flight send %s: %w", tempID, common.ErrNotFound)
		}
		if st.log.reconciled(tempID) != nil {
			return fmt.Errorf("message %s already delivered: %w", tempID, common.ErrInvalidTransition)
		}
		delete(st.inflight, tempID)
		f.cancel()
		st.log.remove(tempID)
		ps = f.send
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ReconcilerRollbacks.WithLabelValues("cancelled").Inc()
	r.log.Info().Uint64("conversation_id", conversationID).Str("temp_id", tempID).Msg("send cancelled")
	ps.resolve(nil, common.ErrSendCancelled)
	return nil
}

// Apply merges one authoritative event into its conversation's log
func (r *Reconciler) Apply(ctx context.Context, ev domain.MessageInserted) (Outcome, error) {
	if ev.ID == "" || ev.ConversationID == 0 {
		return "", fmt.Errorf("event without id or conversation: %w", common.ErrInvalidInput)
	}

	var (
		outcome Outcome
		entry   Message
		tempID  string
	)
	err := r.actors.Do(ctx, key(ev.ConversationID), func() error {
		st := r.state(ev.ConversationID)
		o, m := st.log.apply(ev, r.gen.Seq)
		outcome = o
		if m != nil {
			entry = *m
			tempID = m.TempID
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ReconcilerEvents.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case OutcomeDuplicate:
		return outcome, nil
	case OutcomeReconciled:
		r.bus.Publish(Event{Topic: TopicReconciled, ConversationID: ev.ConversationID, Message: entry, TempID: tempID, Outcome: outcome})
		return outcome, nil
	case OutcomeConflict:
		r.log.Warn().Err(common.ErrReconciliationConflict).
			Uint64("conversation_id", ev.ConversationID).
			Str("message_id", ev.ID).
			Str("temp_id", ev.ClientTempID).
			Msg("echo matched no pending entry, appended as new")
	}
	r.bus.Publish(Event{Topic: TopicReceived, ConversationID: ev.ConversationID, Message: entry, Outcome: outcome})
	return outcome, nil
}

// Load merges authoritative history so a reconnect converges with the
// server. Already known messages are skipped.
func (r *Reconciler) Load(ctx context.Context, conversationID uint64) (int, error) {
	if r.opts.History == nil {
		return 0, nil
	}
	msgs, err := r.opts.History.History(ctx, conversationID, nil, historyPageSize)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range msgs {
		outcome, err := r.Apply(ctx, m.Inserted())
		if err != nil {
			return changed, err
		}
		if outcome.Changed() {
			changed++
		}
	}
	return changed, nil
}

// Attach applies events until the channel closes or ctx ends
func (r *Reconciler) Attach(ctx context.Context, events <-chan domain.MessageInserted) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := r.Apply(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn().Err(err).Str("message_id", ev.ID).Msg("applying feed event failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MarkRead is best effort: failures are logged and returned but never
// touch the log.
func (r *Reconciler) MarkRead(ctx context.Context, conversationID uint64) error {
	if r.opts.MarkReader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()
	if err := r.opts.MarkReader.MarkRead(ctx, conversationID); err != nil {
		r.log.Warn().Err(err).Uint64("conversation_id", conversationID).Msg("mark read failed")
		return err
	}
	return nil
}

// Snapshot returns a copy of the conversation log in display order
func (r *Reconciler) Snapshot(ctx context.Context, conversationID uint64) ([]Message, error) {
	var out []Message
	err := r.actors.Do(ctx, key(conversationID), func() error {
		out = r.state(conversationID).log.snapshot()
		return nil
	})
	return out, err
}

// PendingCount returns the size of the conversation's PendingSet
func (r *Reconciler) PendingCount(ctx context.Context, conversationID uint64) (int, error) {
	var n int
	err := r.actors.Do(ctx, key(conversationID), func() error {
		n = r.state(conversationID).log.pendingCount()
		return nil
	})
	return n, err
}

// OnMessageReconciled registers a callback for replaced optimistic entries
func (r *Reconciler) OnMessageReconciled(h Handler) func() {
	return r.bus.Subscribe(TopicReconciled, h)
}

// OnMessageReceived registers a callback for newly appended messages
func (r *Reconciler) OnMessageReceived(h Handler) func() {
	return r.bus.Subscribe(TopicReceived, h)
}

// OnSendFailed registers a callback for rolled back sends
func (r *Reconciler) OnSendFailed(h Handler) func() {
	return r.bus.Subscribe(TopicSendFailed, h)
}

// Close stops the conversation actors and aborts in-flight sends
func (r *Reconciler) Close() {
	r.actors.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.logs {
		for tempID, f := range st.inflight {
			f.cancel()
			f.send.resolve(nil, fmt.Errorf("%w: reconciler closed", common.ErrMessageSendFailed))
			delete(st.inflight, tempID)
		}
	}
}
