package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
	"go-livechat/internal/router"
)

const (
	defaultHistoryLimit = 200
	// Admins get a history frame for at most this many sessions on connect.
	adminHistorySessions = 50
	archiveTimeout       = 5 * time.Second
)

// ErrHubStopped is returned by queries made after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Hub is one relay instance. Its Run loop owns the socket set; conversation
// state lives in a conversation.Store shared with the read pumps.
type Hub struct {
	id         string
	clients    map[*Client]bool
	presence   map[string]int     // session id -> local customer sockets
	broadcast  chan Envelope      // From broker -> Clients
	direct     chan directMessage // Replies addressed to one socket
	listFor    chan *Client       // Admins waiting for a session list
	summaries  chan chan []protocol.SessionSummary
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	broker       Broker
	archive      Archive
	store        *conversation.Store
	historyLimit int
	adminHistory int
	log          *slog.Logger
}

type HubOption func(*Hub)

// WithArchive persists transcripts and serves history from them after a restart.
func WithArchive(a Archive) HubOption {
	return func(h *Hub) { h.archive = a }
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithHistoryLimit caps the messages replayed in one history frame.
func WithHistoryLimit(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.historyLimit = n
		}
	}
}

// WithAdminHistorySessions caps how many sessions an admin gets a history
// frame for on connect.
func WithAdminHistorySessions(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.adminHistory = n
		}
	}
}

func NewHub(broker Broker, opts ...HubOption) *Hub {
	h := &Hub{
		id:           uuid.NewString(),
		clients:      make(map[*Client]bool),
		presence:     make(map[string]int),
		broadcast:    make(chan Envelope, 256),
		direct:       make(chan directMessage, 256),
		listFor:      make(chan *Client),
		summaries:    make(chan chan []protocol.SessionSummary),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		broker:       broker,
		store:        conversation.NewStore(),
		historyLimit: defaultHistoryLimit,
		adminHistory: adminHistorySessions,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "hub", "instance", h.id[:8])
	return h
}

// Store exposes the relay's conversation state.
func (h *Hub) Store() *conversation.Store { return h.store }

// Run owns the socket set until ctx is done. It never blocks on a socket.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.store.Close()
			return

		case client := <-h.register:
			h.clients[client] = true
			connectionsMetric.WithLabelValues(string(client.role)).Inc()
			if client.role == protocol.RoleCustomer {
				h.presence[client.sessionID]++
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				if client.role == protocol.RoleCustomer {
					h.pushSessionList()
				}
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(msg.client, msg.payload)
			}

		case client := <-h.listFor:
			if h.clients[client] {
				if payload, err := protocol.Encode(protocol.NewSessionList(h.sessionSummaries())); err == nil {
					h.deliver(client, payload)
				}
			}

		case reply := <-h.summaries:
			reply <- h.sessionSummaries()

		case env := <-h.broadcast:
			h.apply(env)
		}
	}
}

// Subscribe registers with the broker and feeds its traffic into Run until
// ctx is done. Call it before Run.
func (h *Hub) Subscribe(ctx context.Context) error {
	envs, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for env := range envs {
			select {
			case h.broadcast <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	connectionsMetric.WithLabelValues(string(client.role)).Dec()
	if client.role == protocol.RoleCustomer {
		if h.presence[client.sessionID]--; h.presence[client.sessionID] <= 0 {
			delete(h.presence, client.sessionID)
		}
	}
}

// deliver never blocks: a socket that cannot keep up is disconnected.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		slowConsumersMetric.Inc()
		h.log.Warn("dropping slow consumer", "conn", client.id, "role", client.role)
		h.drop(client)
	}
}

// apply runs on every instance for every envelope, including our own.
func (h *Hub) apply(env Envelope) {
	f := env.Frame
	switch f.Type {
	case protocol.TypeInit:
		if env.From == protocol.RoleCustomer {
			h.store.UpsertShell(f.SessionID, localInfo(f.CustomerInfo), time.Now())
			h.pushSessionList()
		}
		return
	case protocol.TypeMessage:
		h.record(f)
	}

	payload, err := protocol.Encode(f)
	if err != nil {
		h.log.Error("failed to encode frame", "type", f.Type, "error", err)
		return
	}
	for client := range h.clients {
		if h.wants(client, env) {
			h.deliver(client, payload)
		}
	}
}

// wants decides whether client should see env.
func (h *Hub) wants(client *Client, env Envelope) bool {
	if env.Origin == h.id && env.ConnID == client.id {
		return false
	}
	f := env.Frame
	switch env.From {
	case protocol.RoleCustomer:
		if client.role == protocol.RoleAdmin {
			return true
		}
		// The customer's other tabs follow their own messages.
		return f.Type == protocol.TypeMessage && client.sessionID == f.SessionID
	case protocol.RoleAdmin:
		if client.role == protocol.RoleCustomer {
			return client.sessionID == f.SessionID
		}
		// Other operators see replies, not each other's keystrokes or acks.
		return f.Type == protocol.TypeMessage
	}
	return false
}

// record keeps the relay's copy of the transcript. The relay tracks no
// unread state, so every message is appended as outbound.
func (h *Hub) record(f protocol.Frame) {
	sender, ok := router.ToLocal(f.Sender)
	if !ok {
		return
	}
	h.store.AppendOutbound(f.SessionID, conversation.Message{
		ID:             f.MessageID,
		Sender:         sender,
		Text:           f.Content,
		Timestamp:      f.Timestamp,
		DeliveryStatus: conversation.StatusSent,
	})
}

func (h *Hub) pushSessionList() {
	payload, err := protocol.Encode(protocol.NewSessionList(h.sessionSummaries()))
	if err != nil {
		return
	}
	for client := range h.clients {
		if client.role == protocol.RoleAdmin {
			h.deliver(client, payload)
		}
	}
}

// sessionSummaries reads presence, so it must run on the Run goroutine.
func (h *Hub) sessionSummaries() []protocol.SessionSummary {
	convs := recentFirst(h.store.List())
	out := make([]protocol.SessionSummary, 0, len(convs))
	for _, c := range convs {
		s := protocol.SessionSummary{
			SessionID:    c.SessionID,
			CustomerInfo: wireInfo(c.CustomerInfo),
			Online:       h.presence[c.SessionID] > 0,
		}
		if !c.LastActive.IsZero() {
			s.LastActive = protocol.FormatTime(c.LastActive)
		}
		out = append(out, s)
	}
	return out
}

// Sessions returns the session list an admin would get on connect.
func (h *Hub) Sessions(ctx context.Context) ([]protocol.SessionSummary, error) {
	reply := make(chan []protocol.SessionSummary, 1)
	select {
	case h.summaries <- reply:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-reply, nil
}

// ---------------------------------------------
// Called from read pumps
// ---------------------------------------------

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) reply(client *Client, f protocol.Frame) {
	payload, err := protocol.Encode(f)
	if err != nil {
		h.log.Error("failed to encode reply", "type", f.Type, "error", err)
		return
	}
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) publish(client *Client, f protocol.Frame) {
	env := Envelope{Origin: h.id, ConnID: client.id, From: client.role, Frame: f}
	if err := h.broker.Publish(context.Background(), env); err != nil {
		h.log.Error("failed to publish frame", "type", f.Type, "error", err)
	}
}

// welcome runs once per socket, right after its init frame registered it.
func (h *Hub) welcome(client *Client, init protocol.Frame) {
	switch client.role {
	case protocol.RoleCustomer:
		if h.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			if err := h.archive.SaveConversation(ctx, client.sessionID, init.CustomerInfo); err != nil {
				h.log.Error("❌ DB Error", "op", "save conversation", "error", err)
			}
			cancel()
		}
		h.reply(client, h.history(client.sessionID))
		h.publish(client, init)

	case protocol.RoleAdmin:
		select {
		case h.listFor <- client:
		case <-h.done:
			return
		}
		sent := 0
		for _, c := range recentFirst(h.store.List()) {
			if sent == h.adminHistory {
				break
			}
			if len(c.Messages) == 0 {
				continue
			}
			h.reply(client, h.history(c.SessionID))
			sent++
		}
	}
}

// history builds the authoritative snapshot for one session, loading it
// from the archive when this instance has never seen the session.
func (h *Hub) history(sessionID string) protocol.Frame {
	conv, ok := h.store.Get(sessionID)
	if (!ok || len(conv.Messages) == 0) && h.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		rows, err := h.archive.RecentMessages(ctx, sessionID, h.historyLimit)
		cancel()
		if err != nil {
			h.log.Error("❌ DB Error", "op", "recent messages", "error", err)
		} else if len(rows) > 0 {
			h.store.ReplaceHistory(sessionID, archivedToLocal(rows))
			conv, _ = h.store.Get(sessionID)
		}
	}

	msgs := conv.Messages
	if len(msgs) > h.historyLimit {
		msgs = msgs[len(msgs)-h.historyLimit:]
	}
	frames := make([]protocol.Frame, 0, len(msgs))
	for _, m := range msgs {
		wire, ok := router.ToWire(m.Sender)
		if !ok {
			continue
		}
		frames = append(frames, protocol.NewMessage(sessionID, m.ID, wire, m.Text, m.Timestamp))
	}
	return protocol.NewHistory(sessionID, frames)
}

// handle routes one frame from a registered socket. Identity fields are
// taken from the socket, never from the frame.
func (h *Hub) handle(client *Client, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage, protocol.TypeTyping, protocol.TypeAck:
	default:
		droppedFramesMetric.WithLabelValues("unexpected_type").Inc()
		client.log.Debug("ignoring frame", "type", f.Type)
		return
	}

	if client.role == protocol.RoleCustomer {
		f.SessionID = client.sessionID
	}
	if f.Type != protocol.TypeAck {
		f.Sender = router.SelfSender(client.role)
	}
	framesMetric.WithLabelValues(string(f.Type)).Inc()

	if f.Type == protocol.TypeMessage && h.archive != nil {
		ts, err := protocol.ParseTime(f.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		err = h.archive.SaveMessage(ctx, ArchivedMessage{
			SessionID: f.SessionID,
			MessageID: f.MessageID,
			Sender:    string(f.Sender),
			Content:   f.Content,
			SentAt:    ts.UTC(),
		})
		cancel()
		if err != nil {
			h.log.Error("❌ DB Error", "op", "save message", "error", err)
		}
	}

	h.publish(client, f)
}

// recentFirst orders conversations by last activity, newest first.
func recentFirst(convs []conversation.Conversation) []conversation.Conversation {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActive.After(convs[j].LastActive)
	})
	return convs
}

func archivedToLocal(rows []ArchivedMessage) []conversation.Message {
	out := make([]conversation.Message, 0, len(rows))
	for _, r := range rows {
		sender, ok := router.ToLocal(protocol.Sender(r.Sender))
		if !ok {
			continue
		}
		out = append(out, conversation.Message{
			ID:             r.MessageID,
			Sender:         sender,
			Text:           r.Content,
			Timestamp:      protocol.FormatTime(r.SentAt),
			DeliveryStatus: conversation.StatusSent,
		})
	}
	return out
}

func localInfo(info *protocol.CustomerInfo) *conversation.CustomerInfo {
	if info == nil {
		return nil
	}
	return &conversation.CustomerInfo{Name: info.Name, Email: info.Email}
}

func wireInfo(info *conversation.CustomerInfo) *protocol.CustomerInfo {
	if info == nil {
		return nil
	}
	return &protocol.CustomerInfo{Name: info.Name, Email: info.Email}
}
