package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"go-livechat/internal/chat"
	"go-livechat/internal/config"
	"go-livechat/internal/connection"
	"go-livechat/internal/conversation"
	"go-livechat/internal/localstore"
	"go-livechat/internal/protocol"
	"go-livechat/internal/router"
	"go-livechat/internal/session"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func startRelay(t *testing.T) string {
	t.Helper()
	return startRelayWith(t, chat.HandlerConfig{})
}

func startRelayWith(t *testing.T, cfg chat.HandlerConfig) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := chat.NewHub(chat.NewLocalBroker())
	require.NoError(t, hub.Subscribe(ctx))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(chat.NewHandler(hub, cfg).ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// switchDialer fails every dial until it is switched on.
type switchDialer struct {
	up   atomic.Bool
	next connection.WebSocketDialer
}

func (d *switchDialer) Dial(ctx context.Context) (connection.Transport, error) {
	if !d.up.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return d.next.Dial(ctx)
}

func fastOptions(d connection.Dialer) Options {
	return Options{
		Dialer:            d,
		SettleDelay:       20 * time.Millisecond,
		ReconnectInterval: 100 * time.Millisecond,
		TypingInterval:    150 * time.Millisecond,
	}
}

type notifications struct {
	mu   sync.Mutex
	seen []conversation.Summary
}

func (n *notifications) Notify(s conversation.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, s)
}

func (n *notifications) sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, s := range n.seen {
		ids = append(ids, s.SessionID)
	}
	return ids
}

func newAdmin(t *testing.T, url string, notifier router.Notifier) *Admin {
	t.Helper()
	opts := fastOptions(connection.WebSocketDialer{URL: url})
	opts.Notifier = notifier
	admin, err := NewAdmin(opts)
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close() })
	admin.Open()
	require.Eventually(t, admin.Connected, waitFor, tick)
	return admin
}

func status(c conversation.Conversation, id string) conversation.DeliveryStatus {
	for _, m := range c.Messages {
		if m.ID == id {
			return m.DeliveryStatus
		}
	}
	return ""
}

func TestOfflineMessageIsSentAfterReconnectAndCountsAsUnread(t *testing.T) {
	url := startRelay(t)

	notes := &notifications{}
	admin := newAdmin(t, url, notes)
	admin.Select("some-other-session")

	dialer := &switchDialer{next: connection.WebSocketDialer{URL: url}}
	customer, err := NewCustomer(fastOptions(dialer), &protocol.CustomerInfo{Name: "Ada"})
	require.NoError(t, err)
	defer customer.Close()

	customer.Open()
	require.Eventually(t, func() bool {
		return customer.ConnectionState().Phase == connection.PhaseBackingOff
	}, waitFor, tick)
	assert.False(t, customer.Connected())
	assert.Contains(t, customer.LastError(), "refused")

	m1, err := customer.SendText("is anyone there?")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusPending, m1.DeliveryStatus)
	assert.Equal(t, 0, admin.TotalUnreadCount())

	dialer.up.Store(true)

	sid := customer.SessionID()
	require.Eventually(t, func() bool {
		return !status(customer.Conversation(), m1.ID).Before(conversation.StatusSent)
	}, waitFor, tick, "m1 never left pending")
	require.Len(t, customer.Conversation().Messages, 1, "history sync must not drop the message")

	require.Eventually(t, func() bool { return admin.TotalUnreadCount() == 1 }, waitFor, tick)
	conv, ok := admin.Conversation(sid)
	require.True(t, ok)
	assert.Equal(t, 1, conv.UnreadCount)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, conversation.SenderCustomer, conv.Messages[0].Sender)
	assert.Equal(t, "is anyone there?", conv.Messages[0].Text)
	assert.Contains(t, notes.sessions(), sid)

	// The admin's client acknowledged receipt.
	require.Eventually(t, func() bool {
		return status(customer.Conversation(), m1.ID) == conversation.StatusDelivered
	}, waitFor, tick)

	// Selecting the conversation reads it and tells the customer.
	admin.Select(sid)
	assert.Equal(t, 0, admin.TotalUnreadCount())
	require.Eventually(t, func() bool {
		return status(customer.Conversation(), m1.ID) == conversation.StatusRead
	}, waitFor, tick)
}

func TestReplyReachesCustomer(t *testing.T) {
	url := startRelay(t)
	admin := newAdmin(t, url, nil)

	customer, err := NewCustomer(fastOptions(connection.WebSocketDialer{URL: url}), nil)
	require.NoError(t, err)
	defer customer.Close()
	customer.Open()
	require.Eventually(t, customer.Connected, waitFor, tick)

	sid := customer.SessionID()
	_, err = customer.SendText("hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, ok := admin.Conversation(sid)
		return ok && len(c.Messages) == 1
	}, waitFor, tick)

	reply, err := admin.SendText(sid, "hi, how can I help?")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c := customer.Conversation()
		return len(c.Messages) == 2 && c.Messages[1].ID == reply.ID
	}, waitFor, tick)
	c := customer.Conversation()
	assert.Equal(t, conversation.SenderSupport, c.Messages[1].Sender)
	assert.Equal(t, 1, c.UnreadCount, "window not visible")

	customer.SetVisible(true)
	assert.Equal(t, 0, customer.Conversation().UnreadCount)
	require.Eventually(t, func() bool {
		c, _ := admin.Conversation(sid)
		return status(c, reply.ID) == conversation.StatusRead
	}, waitFor, tick)
}

func TestTypingIndicatorRoundTrip(t *testing.T) {
	url := startRelay(t)
	admin := newAdmin(t, url, nil)

	customer, err := NewCustomer(fastOptions(connection.WebSocketDialer{URL: url}), nil)
	require.NoError(t, err)
	defer customer.Close()
	customer.Open()
	require.Eventually(t, customer.Connected, waitFor, tick)
	sid := customer.SessionID()
	// Typing frames are dropped until the connection has settled; a sent
	// message proves it has.
	first, err := customer.SendText("hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !status(customer.Conversation(), first.ID).Before(conversation.StatusSent)
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		_, ok := admin.Conversation(sid)
		return ok
	}, waitFor, tick)

	customer.InputChanged("h")
	customer.InputChanged("he")
	require.Eventually(t, func() bool {
		c, _ := admin.Conversation(sid)
		return c.PeerTyping
	}, waitFor, tick)

	// Debounce interval elapses with no input: typing:false follows.
	require.Eventually(t, func() bool {
		c, _ := admin.Conversation(sid)
		return !c.PeerTyping
	}, waitFor, tick)
}

func TestSessionIDIsStableAcrossRestarts(t *testing.T) {
	kv := localstore.NewMemory()
	first, err := SessionID(kv)
	require.NoError(t, err)
	second, err := SessionID(kv)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	v, ok, _ := kv.Get(SessionKey)
	require.True(t, ok)
	assert.Equal(t, first, v)
}

func TestPendingMessagesSurviveClientRestart(t *testing.T) {
	db, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	dialer := &switchDialer{}
	opts := fastOptions(dialer)
	opts.KV = db
	opts.Snapshots = db

	before, err := NewCustomer(opts, nil)
	require.NoError(t, err)
	m, err := before.SendText("sent while offline")
	require.NoError(t, err)
	require.NoError(t, before.Close())

	url := startRelay(t)
	admin := newAdmin(t, url, nil)
	dialer.next = connection.WebSocketDialer{URL: url}
	dialer.up.Store(true)

	after, err := NewCustomer(opts, nil)
	require.NoError(t, err)
	defer after.Close()
	assert.Equal(t, before.SessionID(), after.SessionID())
	require.Len(t, after.Conversation().Messages, 1)

	after.Open()
	require.Eventually(t, func() bool {
		c, ok := admin.Conversation(after.SessionID())
		return ok && len(c.Messages) == 1 && c.Messages[0].ID == m.ID
	}, waitFor, tick)
}

func TestAdminSessionFilters(t *testing.T) {
	url := startRelay(t)
	admin := newAdmin(t, url, nil)

	var sids []string
	for i := 0; i < 2; i++ {
		c, err := NewCustomer(fastOptions(connection.WebSocketDialer{URL: url}), &protocol.CustomerInfo{Name: []string{"Ada", "Grace"}[i]})
		require.NoError(t, err)
		defer c.Close()
		c.Open()
		require.Eventually(t, c.Connected, waitFor, tick)
		sids = append(sids, c.SessionID())
		if i == 0 {
			_, err = c.SendText("help")
			require.NoError(t, err)
		}
	}

	require.Eventually(t, func() bool { return len(admin.Sessions(session.Filter{})) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return admin.TotalUnreadCount() == 1 }, waitFor, tick)

	unread := admin.Sessions(session.Filter{UnreadOnly: true})
	require.Len(t, unread, 1)
	assert.Equal(t, sids[0], unread[0].SessionID)

	byName := admin.Sessions(session.Filter{Query: "grace"})
	require.Len(t, byName, 1)
	assert.Equal(t, sids[1], byName[0].SessionID)

	assert.True(t, admin.MarkSessionAsRead(sids[0]))
	assert.False(t, admin.MarkSessionAsRead(sids[0]))
	assert.Equal(t, 0, admin.TotalUnreadCount())
}

func TestOutboxLargerThanRelayBurstIsFullyDelivered(t *testing.T) {
	defaults := config.Default().Server
	url := startRelayWith(t, chat.HandlerConfig{
		RateLimit: rate.Limit(defaults.RateLimit),
		RateBurst: defaults.RateBurst,
	})
	admin := newAdmin(t, url, nil)

	dialer := &switchDialer{next: connection.WebSocketDialer{URL: url}}
	customer, err := NewCustomer(fastOptions(dialer), nil)
	require.NoError(t, err)
	defer customer.Close()
	customer.Open()

	n := defaults.RateBurst + 20
	for i := 0; i < n; i++ {
		_, err := customer.SendText(fmt.Sprintf("offline %d", i))
		require.NoError(t, err)
	}
	dialer.up.Store(true)

	sid := customer.SessionID()
	require.Eventually(t, func() bool {
		c, ok := admin.Conversation(sid)
		return ok && len(c.Messages) == n
	}, 15*time.Second, 50*time.Millisecond)

	c, _ := admin.Conversation(sid)
	for i, m := range c.Messages {
		assert.Equal(t, fmt.Sprintf("offline %d", i), m.Text, "flush order")
	}
	for _, m := range customer.Conversation().Messages {
		assert.False(t, m.DeliveryStatus.Before(conversation.StatusSent), m.Text)
	}
}

func TestTypingTTLFollowsDebounceInterval(t *testing.T) {
	assert.Equal(t, conversation.DefaultTypingTTL, typingTTL(Options{}))
	assert.Equal(t, 10*time.Second, typingTTL(Options{TypingInterval: 2 * time.Second}))
	assert.Equal(t, 30*time.Second, typingTTL(Options{TypingInterval: 6 * time.Second}))
	assert.Equal(t, time.Second, typingTTL(Options{TypingInterval: 6 * time.Second, TypingTTL: time.Second}))
}

func TestCloseSavesConversations(t *testing.T) {
	db, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	opts := fastOptions(&switchDialer{})
	opts.KV = db
	opts.Snapshots = db
	admin, err := NewAdmin(opts)
	require.NoError(t, err)

	admin.store.UpsertShell("s1", &conversation.CustomerInfo{Name: "Ada"}, time.Now())
	require.NoError(t, admin.Close())

	convs, err := db.LoadConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "s1", convs[0].SessionID)
}
