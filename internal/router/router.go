// Package router decodes inbound frames and applies them to the local
// conversation store.
package router

import (
	"log/slog"
	"time"

	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
)

// Notifier is the external notification surface (sound, banner) for
// messages that land in a conversation nobody is looking at.
type Notifier interface {
	Notify(conversation.Summary)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(conversation.Summary)

func (f NotifierFunc) Notify(s conversation.Summary) { f(s) }

// Acker is the delivery tracker as seen by the router.
type Acker interface {
	HandleAck(f protocol.Frame)
	AckDelivered(sessionID, messageID string)
	MarkRead(sessionID string) bool
	ApplyHistory(sessionID string, msgs []conversation.Message)
}

// Router dispatches frames for one local role.
type Router struct {
	role     protocol.Role
	self     conversation.Sender
	store    *conversation.Store
	acker    Acker
	notifier Notifier
	log      *slog.Logger
}

// New creates a router. acker and notifier may be nil.
func New(role protocol.Role, store *conversation.Store, acker Acker, notifier Notifier, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		role:     role,
		self:     LocalSelf(role),
		store:    store,
		acker:    acker,
		notifier: notifier,
		log:      log.With("component", "router", "role", string(role)),
	}
}

// Dispatch decodes one payload and applies it. Malformed payloads are
// logged and dropped; the returned error is informational only.
func (r *Router) Dispatch(data []byte) error {
	f, err := protocol.Decode(data)
	if err != nil {
		r.log.Warn("dropping malformed frame", "error", err, "bytes", len(data))
		return err
	}
	r.Apply(f)
	return nil
}

// Apply routes an already decoded frame.
func (r *Router) Apply(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage:
		r.onMessage(f)
	case protocol.TypeTyping:
		r.onTyping(f)
	case protocol.TypeHistory:
		r.onHistory(f)
	case protocol.TypeSessionList:
		r.onSessionList(f)
	case protocol.TypeAck:
		if r.acker != nil {
			r.acker.HandleAck(f)
		}
	case protocol.TypeInit:
		r.log.Debug("ignoring init frame on client side")
	}
}

func (r *Router) onMessage(f protocol.Frame) {
	sender, ok := ToLocal(f.Sender)
	if !ok {
		r.log.Warn("dropping message with unmapped sender", "sender", f.Sender)
		return
	}

	m := conversation.Message{
		ID:        f.MessageID,
		Sender:    sender,
		Text:      f.Content,
		Timestamp: f.Timestamp,
	}

	// Our own role's messages can come back to us: another operator on the
	// admin side, or an echo. They never count as unread.
	if sender == r.self {
		m.DeliveryStatus = conversation.StatusSent
		r.store.AppendOutbound(f.SessionID, m)
		return
	}

	m.DeliveryStatus = conversation.StatusDelivered
	res := r.store.AppendInbound(f.SessionID, m)
	if !res.Appended {
		return
	}
	r.store.SetTyping(f.SessionID, false)

	if r.acker != nil {
		r.acker.AckDelivered(f.SessionID, f.MessageID)
	}

	if !res.Unread {
		// Landed in the focused conversation: it has been seen.
		if r.acker != nil && r.store.Active() == f.SessionID {
			r.acker.MarkRead(f.SessionID)
		}
		return
	}
	if r.notifier != nil {
		if c, ok := r.store.Get(f.SessionID); ok {
			r.notifier.Notify(c.Summarize())
		}
	}
}

func (r *Router) onTyping(f protocol.Frame) {
	if sender, ok := ToLocal(f.Sender); ok && sender == r.self {
		return
	}
	r.store.SetTyping(f.SessionID, f.Typing())
}

func (r *Router) onHistory(f protocol.Frame) {
	msgs := make([]conversation.Message, 0, len(f.Messages))
	for _, entry := range f.Messages {
		sender, ok := ToLocal(entry.Sender)
		if !ok {
			continue
		}
		status := conversation.StatusDelivered
		if sender == r.self {
			status = conversation.StatusSent
		}
		msgs = append(msgs, conversation.Message{
			ID:             entry.MessageID,
			Sender:         sender,
			Text:           entry.Content,
			Timestamp:      entry.Timestamp,
			DeliveryStatus: status,
		})
	}
	if r.acker != nil {
		r.acker.ApplyHistory(f.SessionID, msgs)
	} else {
		r.store.ReplaceHistory(f.SessionID, msgs)
	}
	r.log.Debug("history applied", "session", f.SessionID, "messages", len(msgs))
}

func (r *Router) onSessionList(f protocol.Frame) {
	if r.role != protocol.RoleAdmin {
		return
	}
	for _, s := range f.Sessions {
		var info *conversation.CustomerInfo
		if s.CustomerInfo != nil {
			info = &conversation.CustomerInfo{Name: s.CustomerInfo.Name, Email: s.CustomerInfo.Email}
		}
		var last time.Time
		if s.LastActive != "" {
			if ts, err := protocol.ParseTime(s.LastActive); err == nil {
				last = ts
			}
		}
		r.store.UpsertShell(s.SessionID, info, last)
	}
}
