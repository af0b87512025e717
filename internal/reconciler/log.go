package reconciler

import (
	"sort"
	"time"

	"github.com/lexgig/lexgig-backend/internal/domain"
)

// Message one entry of a conversation log. ID is empty while the entry is
// an unacknowledged optimistic send; TempID is empty for messages that were
// never local sends.
type Message struct {
	ID             string    `json:"id,omitempty"`
	TempID         string    `json:"temp_id,omitempty"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Pending        bool      `json:"pending"`

	seq uint64
}

// Key returns the stable identity of the entry for UI lists
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Outcome how an authoritative event changed the log
type Outcome string

const (
	OutcomeReceived     Outcome = "received"      // counterpart message appended
	OutcomeReconciled   Outcome = "reconciled"    // pending entry replaced in place
	OutcomeOtherSession Outcome = "other_session" // own message from another session appended
	OutcomeLateEcho     Outcome = "late_echo"     // echo of a cancelled or failed send appended
	OutcomeConflict     Outcome = "conflict"      // token already bound to another id, appended
	OutcomeDuplicate    Outcome = "duplicate"     // already applied, no change
)

// Changed reports whether the log was modified
func (o Outcome) Changed() bool {
	return o != OutcomeDuplicate
}

// conversationLog is the per-conversation state: the ordered entries, the
// PendingSet of unacknowledged temp ids and bookkeeping for matching echoes.
// It is not safe for concurrent use; the Reconciler confines each log to
// its conversation's actor.
type conversationLog struct {
	conversationID uint64
	localUser      string

	entries []*Message
	pending map[string]struct{} // temp ids awaiting ack
	acked   map[string]string   // authoritative id -> temp id, acked but not yet echoed
	known   map[string]struct{} // authoritative ids present in entries
	retired map[string]struct{} // temp ids removed by rollback or cancel
}

func newConversationLog(conversationID uint64, localUser string) *conversationLog {
	return &conversationLog{
		conversationID: conversationID,
		localUser:      localUser,
		pending:        make(map[string]struct{}),
		acked:          make(map[string]string),
		known:          make(map[string]struct{}),
		retired:        make(map[string]struct{}),
	}
}

// addPending appends an optimistic entry and records its temp id
func (l *conversationLog) addPending(tempID, content string, createdAt time.Time, seq uint64) *Message {
	m := &Message{
		TempID:         tempID,
		ConversationID: l.conversationID,
		SenderID:       l.localUser,
		Content:        content,
		CreatedAt:      createdAt,
		Pending:        true,
		seq:            seq,
	}
	l.entries = append(l.entries, m)
	l.pending[tempID] = struct{}{}
	l.sort()
	return m
}

// ack records a successful send. The entry stays pending until its echo is
// applied, but the echo will now match it by authoritative id.
func (l *conversationLog) ack(tempID, authoritativeID string) {
	delete(l.pending, tempID)
	if _, seen := l.known[authoritativeID]; seen {
		return
	}
	if l.findPending(tempID) != nil {
		l.acked[authoritativeID] = tempID
	}
}

// remove drops a still pending entry. It returns false when the entry is
// gone or was already reconciled by an early echo.
func (l *conversationLog) remove(tempID string) bool {
	delete(l.pending, tempID)
	for id, t := range l.acked {
		if t == tempID {
			delete(l.acked, id)
		}
	}
	for i, m := range l.entries {
		if m.TempID == tempID && m.Pending {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.retired[tempID] = struct{}{}
			return true
		}
	}
	return false
}

// reconciled returns the authoritative copy of a temp id, if its echo was applied
func (l *conversationLog) reconciled(tempID string) *Message {
	for _, m := range l.entries {
		if m.TempID == tempID && !m.Pending {
			return m
		}
	}
	return nil
}

// apply merges one authoritative event. Applying the same event twice is a
// no-op the second time.
func (l *conversationLog) apply(ev domain.MessageInserted, seq func() uint64) (Outcome, *Message) {
	if _, seen := l.known[ev.ID]; seen {
		return OutcomeDuplicate, nil
	}

	if ev.SenderID != l.localUser {
		return OutcomeReceived, l.appendAuthoritative(ev, seq())
	}

	if tempID, ok := l.acked[ev.ID]; ok {
		if m := l.findPending(tempID); m != nil {
			return OutcomeReconciled, l.reconcile(m, ev)
		}
	}

	if ev.ClientTempID != "" {
		if m := l.findPending(ev.ClientTempID); m != nil {
			return OutcomeReconciled, l.reconcile(m, ev)
		}
		if _, ok := l.retired[ev.ClientTempID]; ok {
			return OutcomeLateEcho, l.appendAuthoritative(ev, seq())
		}
		if l.reconciled(ev.ClientTempID) != nil {
			// token already reconciled under a different id
			return OutcomeConflict, l.appendAuthoritative(ev, seq())
		}
		return OutcomeOtherSession, l.appendAuthoritative(ev, seq())
	}

	if m := l.oldestUnacked(); m != nil {
		return OutcomeReconciled, l.reconcile(m, ev)
	}
	return OutcomeOtherSession, l.appendAuthoritative(ev, seq())
}

func (l *conversationLog) appendAuthoritative(ev domain.MessageInserted, seq uint64) *Message {
	m := &Message{
		ID:             ev.ID,
		ConversationID: l.conversationID,
		SenderID:       ev.SenderID,
		Content:        ev.Content,
		CreatedAt:      ev.CreatedAt,
		seq:            seq,
	}
	l.entries = append(l.entries, m)
	l.known[ev.ID] = struct{}{}
	l.sort()
	return m
}

// reconcile replaces the temp entry in place with the authoritative copy.
// The entry then adopts the server timestamp and may move.
func (l *conversationLog) reconcile(m *Message, ev domain.MessageInserted) *Message {
	delete(l.pending, m.TempID)
	delete(l.acked, ev.ID)

	m.ID = ev.ID
	m.Content = ev.Content
	m.CreatedAt = ev.CreatedAt
	m.Pending = false
	l.known[ev.ID] = struct{}{}
	l.sort()
	return m
}

func (l *conversationLog) findPending(tempID string) *Message {
	for _, m := range l.entries {
		if m.Pending && m.TempID == tempID {
			return m
		}
	}
	return nil
}

// oldestUnacked is the fallback match for echoes without a correlation
// token: the earliest pending entry whose authoritative id is not yet known.
func (l *conversationLog) oldestUnacked() *Message {
	ackedTemp := make(map[string]struct{}, len(l.acked))
	for _, t := range l.acked {
		ackedTemp[t] = struct{}{}
	}
	var oldest *Message
	for _, m := range l.entries {
		if !m.Pending {
			continue
		}
		if _, ok := ackedTemp[m.TempID]; ok {
			continue
		}
		if oldest == nil || before(m, oldest) {
			oldest = m
		}
	}
	return oldest
}

func (l *conversationLog) sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return before(l.entries[i], l.entries[j])
	})
}

func before(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (l *conversationLog) pendingCount() int {
	return len(l.pending)
}

func (l *conversationLog) snapshot() []Message {
	out := make([]Message, len(l.entries))
	for i, m := range l.entries {
		out[i] = *m
	}
	return out
}
