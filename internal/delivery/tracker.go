// Package delivery tracks self-authored messages through
// pending -> sent -> delivered -> read and emits the acknowledgements
// that drive the same lifecycle on the peer.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
)

// ErrEmptyMessage is returned when submitting blank text.
var ErrEmptyMessage = errors.New("message text is empty")

// Transmitter is the part of the connection manager the tracker needs.
type Transmitter interface {
	Send(f protocol.Frame) bool
}

// Tracker owns the delivery status of messages authored by the local role.
type Tracker struct {
	store *conversation.Store
	conn  Transmitter
	role  protocol.Role
	self  conversation.Sender
	wire  protocol.Sender
	log   *slog.Logger
	now   func() time.Time

	// mu orders transmissions against history snapshots.
	mu sync.Mutex
}

// NewTracker creates a tracker for role. self and wire are the local and wire
// names of the local author, as resolved by the router's sender table.
func NewTracker(store *conversation.Store, conn Transmitter, role protocol.Role, self conversation.Sender, wire protocol.Sender, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		store: store,
		conn:  conn,
		role:  role,
		self:  self,
		wire:  wire,
		log:   log.With("component", "delivery"),
		now:   time.Now,
	}
}

// NewMessageID returns a role-namespaced id, e.g. customer-msg-1714557600000-9f1c2a7b.
func (t *Tracker) NewMessageID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-msg-%d-%s", t.role, t.now().UnixMilli(), suffix)
}

// Submit appends text optimistically as pending and hands it to the
// connection. If the connection is down the frame waits in its outbox and
// the message stays pending until it is written.
func (t *Tracker) Submit(sessionID, text string) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyMessage
	}

	m := conversation.Message{
		ID:             t.NewMessageID(),
		Sender:         t.self,
		Text:           text,
		Timestamp:      protocol.FormatTime(t.now()),
		DeliveryStatus: conversation.StatusPending,
	}
	t.store.AppendOutbound(sessionID, m)

	if !t.conn.Send(protocol.NewMessage(sessionID, m.ID, t.wire, m.Text, m.Timestamp)) {
		t.log.Debug("message queued", "session", sessionID, "message", m.ID)
	}
	if st, ok := t.store.MessageStatus(sessionID, m.ID); ok {
		m.DeliveryStatus = st
	}
	return m, nil
}

// ResendPending re-submits every self-authored message still pending, in
// log order. Used after restoring a persisted store, whose outbox is gone.
func (t *Tracker) ResendPending() int {
	n := 0
	for _, c := range t.store.List() {
		for _, m := range c.Messages {
			if m.Sender != t.self || m.DeliveryStatus != conversation.StatusPending {
				continue
			}
			t.conn.Send(protocol.NewMessage(c.SessionID, m.ID, t.wire, m.Text, m.Timestamp))
			n++
		}
	}
	return n
}

// Transmitted is the connection manager's OnTransmitted hook.
func (t *Tracker) Transmitted(f protocol.Frame) {
	if f.Type != protocol.TypeMessage {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store.SetStatus(f.SessionID, f.MessageID, conversation.StatusSent)
}

// ApplyHistory replaces the log with a server snapshot, then re-appends
// the self-authored messages still waiting in the outbox. They have not been
// written yet, so no snapshot can contain them.
func (t *Tracker) ApplyHistory(sessionID string, msgs []conversation.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var queued []conversation.Message
	if c, ok := t.store.Get(sessionID); ok {
		for _, m := range c.Messages {
			if m.Sender == t.self && m.DeliveryStatus == conversation.StatusPending {
				queued = append(queued, m)
			}
		}
	}
	t.store.ReplaceHistory(sessionID, msgs)
	for _, m := range queued {
		t.store.AppendOutbound(sessionID, m)
	}
}

// HandleAck applies a peer acknowledgement. A read ack covers every
// self-authored message up to and including the acknowledged one.
func (t *Tracker) HandleAck(f protocol.Frame) {
	switch f.Status {
	case protocol.AckDelivered:
		t.store.SetStatus(f.SessionID, f.MessageID, conversation.StatusDelivered)
	case protocol.AckRead:
		t.store.SetStatusThrough(f.SessionID, f.MessageID, t.self, conversation.StatusRead)
	}
}

// AckDelivered tells the peer its message arrived.
func (t *Tracker) AckDelivered(sessionID, messageID string) {
	t.conn.Send(protocol.NewAck(sessionID, messageID, protocol.AckDelivered))
}

// MarkRead zeroes the conversation's unread counter and, when that changed
// anything, tells the peer everything up to its newest message was read.
// Repeated calls are no-ops.
func (t *Tracker) MarkRead(sessionID string) bool {
	lastPeer, changed := t.store.MarkRead(sessionID, t.self)
	if changed && lastPeer != "" {
		t.conn.Send(protocol.NewAck(sessionID, lastPeer, protocol.AckRead))
	}
	return changed
}
