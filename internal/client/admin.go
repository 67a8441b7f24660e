package client

import (
	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
	"go-livechat/internal/session"
)

// Admin is the support-agent side: every session over one connection.
type Admin struct {
	*core
	sessions *session.Aggregator
	typing   *typingSender
}

func NewAdmin(opts Options) (*Admin, error) {
	c, err := newCore(protocol.RoleAdmin, func() protocol.Frame {
		return protocol.NewInit(protocol.RoleAdmin, "")
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Admin{
		core:     c,
		sessions: session.NewAggregator(c.store, c.tracker),
		typing:   newTypingSender(c.conn, protocol.SenderAdmin, opts.TypingInterval),
	}, nil
}

// SendText replies in one session.
func (a *Admin) SendText(sessionID, text string) (conversation.Message, error) {
	a.typing.reset(sessionID)
	return a.tracker.Submit(sessionID, text)
}

// InputChanged feeds the compose box of one session into its debouncer.
func (a *Admin) InputChanged(sessionID, text string) {
	a.typing.input(sessionID, text)
}

// Select focuses a session and marks it read.
func (a *Admin) Select(sessionID string) { a.sessions.Select(sessionID) }

// Deselect clears the focus.
func (a *Admin) Deselect() { a.sessions.Deselect() }

func (a *Admin) Sessions(f session.Filter) []conversation.Summary { return a.sessions.Sessions(f) }

func (a *Admin) TotalUnreadCount() int { return a.sessions.TotalUnreadCount() }

func (a *Admin) MarkSessionAsRead(sessionID string) bool {
	return a.sessions.MarkSessionAsRead(sessionID)
}

// Conversation returns a copy of one session's conversation.
func (a *Admin) Conversation(sessionID string) (conversation.Conversation, bool) {
	return a.store.Get(sessionID)
}

func (a *Admin) Close() error {
	a.typing.stop()
	return a.close()
}
