// Package client assembles the messaging core for one role: a customer with
// a single conversation, or an admin multiplexing every session over one
// connection. The UI layer talks only to Customer or Admin.
package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go-livechat/internal/connection"
	"go-livechat/internal/conversation"
	"go-livechat/internal/delivery"
	"go-livechat/internal/localstore"
	"go-livechat/internal/protocol"
	"go-livechat/internal/router"
)

// SessionKey is the fixed key the customer's session id is stored under.
const SessionKey = "livechat.sessionId"

// Options wires a client. Dialer is required; everything else has a default.
type Options struct {
	Dialer connection.Dialer

	// KV keeps the customer's session id across restarts. Defaults to memory.
	KV localstore.KeyValue
	// Snapshots, when set, persists conversations and restores them on start.
	Snapshots *localstore.Store

	Notifier router.Notifier
	Logger   *slog.Logger

	SettleDelay       time.Duration
	ReconnectInterval time.Duration
	Backoff           connection.BackoffMode
	TypingInterval    time.Duration
	TypingTTL         time.Duration

	// OnState observes connection state changes.
	OnState func(connection.State)
}

// core is the part shared by both roles.
type core struct {
	role    protocol.Role
	store   *conversation.Store
	conn    *connection.Manager
	tracker *delivery.Tracker
	router  *router.Router
	snaps   *localstore.Store
	log     *slog.Logger
}

func newCore(role protocol.Role, init func() protocol.Frame, opts Options) (*core, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("client: dialer is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("role", string(role))

	c := &core{
		role:  role,
		store: conversation.NewStore(conversation.WithTypingTTL(typingTTL(opts))),
		snaps: opts.Snapshots,
		log:   log,
	}

	settle := opts.SettleDelay
	if settle == 0 {
		settle = connection.DefaultSettleDelay
	}
	c.conn = connection.NewManager(connection.Config{
		Dialer:      opts.Dialer,
		Init:        init,
		SettleDelay: settle,
		Backoff:     connection.NewBackOff(opts.Backoff, opts.ReconnectInterval),
		Logger:      log,
		OnFrame: func(data []byte) {
			_ = c.router.Dispatch(data)
		},
		OnState: opts.OnState,
		OnTransmitted: func(f protocol.Frame) {
			c.tracker.Transmitted(f)
		},
	})

	self := router.SelfSender(role)
	c.tracker = delivery.NewTracker(c.store, c.conn, role, router.LocalSelf(role), self, log)
	c.router = router.New(role, c.store, c.tracker, opts.Notifier, log)

	if opts.Snapshots != nil {
		n, err := localstore.Restore(opts.Snapshots, c.store)
		if err != nil {
			return nil, fmt.Errorf("restore conversations: %w", err)
		}
		localstore.Attach(opts.Snapshots, c.store, log)
		if n > 0 {
			log.Info("restored conversations", "count", n, "pending", c.tracker.ResendPending())
		}
	}
	return c, nil
}

// Open starts connecting in the background.
func (c *core) Open() { c.conn.Open() }

// Connected reports whether the transport is open.
func (c *core) Connected() bool { return c.conn.Connected() }

// LastError is the most recent transport error, or "".
func (c *core) LastError() string { return c.conn.State().LastError }

// ConnectionState returns the full connection state.
func (c *core) ConnectionState() connection.State { return c.conn.State() }

// Observe registers fn to be told whenever a conversation changes.
func (c *core) Observe(fn func(sessionID string)) { c.store.Observe(fn) }

func (c *core) close() error {
	err := c.conn.Close()
	if c.snaps != nil {
		if serr := c.snaps.SaveConversations(c.store.List()); serr != nil {
			c.log.Warn("failed to save conversations on close", "error", serr)
		}
	}
	c.store.Close()
	return err
}

// typingTTL is how long a peer typing flag lives without a refresh: the
// explicit TypingTTL, else five debounce intervals.
func typingTTL(opts Options) time.Duration {
	if opts.TypingTTL > 0 {
		return opts.TypingTTL
	}
	if opts.TypingInterval > 0 {
		return 5 * opts.TypingInterval
	}
	return conversation.DefaultTypingTTL
}

// ---------------------------------------------
// Customer
// ---------------------------------------------

// Customer is the storefront side: one session, one conversation.
type Customer struct {
	*core
	sessionID string
	info      *protocol.CustomerInfo
	typing    *typingSender
}

// NewCustomer loads (or creates and stores) the session id and wires the core.
// info is optional.
func NewCustomer(opts Options, info *protocol.CustomerInfo) (*Customer, error) {
	kv := opts.KV
	if kv == nil {
		kv = localstore.NewMemory()
	}
	sessionID, err := SessionID(kv)
	if err != nil {
		return nil, err
	}

	cu := &Customer{sessionID: sessionID, info: info}
	cu.core, err = newCore(protocol.RoleCustomer, cu.initFrame, opts)
	if err != nil {
		return nil, err
	}
	cu.store.Ensure(sessionID)
	cu.typing = newTypingSender(cu.conn, protocol.SenderCustomer, opts.TypingInterval)
	return cu, nil
}

// SessionID returns the id stored under SessionKey, generating and storing
// one on first contact.
func SessionID(kv localstore.KeyValue) (string, error) {
	id, ok, err := kv.Get(SessionKey)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := kv.Set(SessionKey, id); err != nil {
		return "", fmt.Errorf("store session id: %w", err)
	}
	return id, nil
}

func (cu *Customer) initFrame() protocol.Frame {
	f := protocol.NewInit(protocol.RoleCustomer, cu.sessionID)
	f.CustomerInfo = cu.info
	return f
}

func (cu *Customer) SessionID() string { return cu.sessionID }

// SendText submits a message. It never fails because of the connection:
// while offline the message stays pending and goes out on reconnect.
func (cu *Customer) SendText(text string) (conversation.Message, error) {
	cu.typing.reset(cu.sessionID)
	return cu.tracker.Submit(cu.sessionID, text)
}

// InputChanged feeds the compose box into the typing debouncer.
func (cu *Customer) InputChanged(text string) {
	cu.typing.input(cu.sessionID, text)
}

// SetVisible tells the core whether the chat window is on screen. Becoming
// visible reads everything.
func (cu *Customer) SetVisible(visible bool) {
	if !visible {
		cu.store.SetActive("")
		return
	}
	cu.store.SetActive(cu.sessionID)
	cu.tracker.MarkRead(cu.sessionID)
}

// Conversation returns a copy of the customer's conversation.
func (cu *Customer) Conversation() conversation.Conversation {
	c, _ := cu.store.Get(cu.sessionID)
	return c
}

func (cu *Customer) Close() error {
	cu.typing.stop()
	return cu.close()
}
