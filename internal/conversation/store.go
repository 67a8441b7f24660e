// Package conversation holds the in-memory table of conversations keyed by
// session id. Every conversation has its own lock so frames for different
// sessions never contend, and readers only ever see copies.
package conversation

import (
	"slices"
	"sort"
	"sync"
	"time"

	"go-livechat/internal/protocol"
)

// DefaultTypingTTL is how long a peer typing flag survives without a follow-up.
const DefaultTypingTTL = 15 * time.Second

type entry struct {
	mu          sync.Mutex
	conv        Conversation
	seen        map[string]int // message id -> index in conv.Messages
	typingTimer *time.Timer
	typingGen   uint64
}

// Store is the conversation table shared by the router and local UI actions.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	active  string

	typingTTL time.Duration
	now       func() time.Time

	obsMu     sync.RWMutex
	observers []func(sessionID string)
}

// Option configures a Store.
type Option func(*Store)

// WithTypingTTL overrides the typing auto-expiry window.
func WithTypingTTL(d time.Duration) Option {
	return func(s *Store) { s.typingTTL = d }
}

// WithClock swaps time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		typingTTL: DefaultTypingTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers fn to be called after any mutation of a conversation.
// Callbacks run outside the store locks.
func (s *Store) Observe(fn func(sessionID string)) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(sessionID string) {
	s.obsMu.RLock()
	obs := slices.Clone(s.observers)
	s.obsMu.RUnlock()
	for _, fn := range obs {
		fn(sessionID)
	}
}

// lookup returns the entry for id, creating it when create is set.
func (s *Store) lookup(id string, create bool) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok || !create {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e, false
	}
	e = &entry{
		conv: Conversation{SessionID: id, Messages: []Message{}},
		seen: make(map[string]int),
	}
	s.entries[id] = e
	return e, true
}

// Ensure creates the conversation if it does not exist yet and reports whether it did.
func (s *Store) Ensure(id string) bool {
	_, created := s.lookup(id, true)
	if created {
		s.notify(id)
	}
	return created
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	e, _ := s.lookup(id, false)
	if e == nil {
		return Conversation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.clone(), true
}

// List returns copies of every conversation, ordered by session id.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len reports how many conversations are known.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SetActive marks the focused conversation. An empty id means none is focused.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

// Active returns the focused conversation id.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// AppendResult describes what an append did.
type AppendResult struct {
	Appended bool // false for duplicate ids
	Created  bool // the conversation did not exist before
	Unread   bool // the unread counter was incremented
}

// AppendInbound appends a peer message. Duplicate ids are ignored. When the
// conversation is not the active one its unread counter is incremented.
func (s *Store) AppendInbound(id string, m Message) AppendResult {
	return s.append(id, m, true)
}

// AppendOutbound appends a self-authored message; it never touches the unread counter.
func (s *Store) AppendOutbound(id string, m Message) AppendResult {
	return s.append(id, m, false)
}

func (s *Store) append(id string, m Message, inbound bool) AppendResult {
	e, created := s.lookup(id, true)
	res := AppendResult{Created: created}

	active := s.Active()

	e.mu.Lock()
	if _, dup := e.seen[m.ID]; !dup {
		e.seen[m.ID] = len(e.conv.Messages)
		e.conv.Messages = append(e.conv.Messages, m)
		e.conv.LastActive = s.now()
		res.Appended = true
		if inbound && active != id {
			e.conv.UnreadCount++
			res.Unread = true
		}
	}
	e.mu.Unlock()

	if res.Appended || res.Created {
		s.notify(id)
	}
	return res
}

// ReplaceHistory swaps the whole log for exactly msgs, in the given order.
// It is the only operation that discards messages. A status already known
// locally for the same id is kept when it is further along than the
// incoming one.
func (s *Store) ReplaceHistory(id string, msgs []Message) {
	e, _ := s.lookup(id, true)

	e.mu.Lock()
	prev := make(map[string]DeliveryStatus, len(e.conv.Messages))
	for _, m := range e.conv.Messages {
		prev[m.ID] = m.DeliveryStatus
	}

	log := make([]Message, 0, len(msgs))
	seen := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if old, ok := prev[m.ID]; ok && m.DeliveryStatus.Before(old) {
			m.DeliveryStatus = old
		}
		seen[m.ID] = len(log)
		log = append(log, m)
	}
	e.conv.Messages = log
	e.seen = seen

	if last, ok := e.conv.LastMessage(); ok {
		if ts, err := protocol.ParseTime(last.Timestamp); err == nil && ts.After(e.conv.LastActive) {
			e.conv.LastActive = ts
		}
	}
	e.mu.Unlock()

	s.notify(id)
}

// UpsertShell makes sure the conversation exists and refreshes its metadata
// without touching its messages.
func (s *Store) UpsertShell(id string, info *CustomerInfo, lastActive time.Time) {
	e, _ := s.lookup(id, true)

	e.mu.Lock()
	if info != nil {
		cp := *info
		e.conv.CustomerInfo = &cp
	}
	if lastActive.After(e.conv.LastActive) {
		e.conv.LastActive = lastActive
	}
	e.mu.Unlock()

	s.notify(id)
}

// MarkRead zeroes the unread counter and marks every message not authored by
// self as read. It returns the id of the newest peer message, and whether
// anything changed. Calling it again is a no-op.
func (s *Store) MarkRead(id string, self Sender) (lastPeerID string, changed bool) {
	e, _ := s.lookup(id, false)
	if e == nil {
		return "", false
	}

	e.mu.Lock()
	if e.conv.UnreadCount != 0 {
		e.conv.UnreadCount = 0
		changed = true
	}
	for i := range e.conv.Messages {
		m := &e.conv.Messages[i]
		if m.Sender == self {
			continue
		}
		lastPeerID = m.ID
		if m.DeliveryStatus != StatusRead {
			m.DeliveryStatus = StatusRead
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		s.notify(id)
	}
	return lastPeerID, changed
}

// SetStatus moves one message forward to status. Backwards moves are ignored.
func (s *Store) SetStatus(id, messageID string, status DeliveryStatus) bool {
	e, _ := s.lookup(id, false)
	if e == nil {
		return false
	}

	e.mu.Lock()
	changed := false
	if idx, ok := e.seen[messageID]; ok {
		m := &e.conv.Messages[idx]
		if m.DeliveryStatus.Before(status) {
			m.DeliveryStatus = status
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		s.notify(id)
	}
	return changed
}

// SetStatusThrough moves every message authored by self, up to and including
// messageID, forward to status. Unknown ids change nothing.
func (s *Store) SetStatusThrough(id, messageID string, self Sender, status DeliveryStatus) int {
	e, _ := s.lookup(id, false)
	if e == nil {
		return 0
	}

	e.mu.Lock()
	n := 0
	if idx, ok := e.seen[messageID]; ok {
		for i := 0; i <= idx; i++ {
			m := &e.conv.Messages[i]
			if m.Sender == self && m.DeliveryStatus.Before(status) {
				m.DeliveryStatus = status
				n++
			}
		}
	}
	e.mu.Unlock()

	if n > 0 {
		s.notify(id)
	}
	return n
}

// MessageStatus looks up the status of one message.
func (s *Store) MessageStatus(id, messageID string) (DeliveryStatus, bool) {
	e, _ := s.lookup(id, false)
	if e == nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.seen[messageID]
	if !ok {
		return "", false
	}
	return e.conv.Messages[idx].DeliveryStatus, true
}

// SetTyping records the peer typing flag. A true flag expires on its own
// after the typing TTL unless refreshed or cleared.
func (s *Store) SetTyping(id string, typing bool) {
	e, _ := s.lookup(id, true)

	e.mu.Lock()
	changed := e.conv.PeerTyping != typing
	e.conv.PeerTyping = typing
	e.typingGen++
	gen := e.typingGen
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	if typing {
		e.typingTimer = time.AfterFunc(s.typingTTL, func() { s.expireTyping(id, e, gen) })
	}
	e.mu.Unlock()

	if changed {
		s.notify(id)
	}
}

func (s *Store) expireTyping(id string, e *entry, gen uint64) {
	e.mu.Lock()
	if e.typingGen != gen || !e.conv.PeerTyping {
		e.mu.Unlock()
		return
	}
	e.conv.PeerTyping = false
	e.typingTimer = nil
	e.mu.Unlock()

	s.notify(id)
}

// Restore loads persisted conversations. Existing entries with the same id are
// replaced; transient typing state is reset.
func (s *Store) Restore(convs []Conversation) {
	s.mu.Lock()
	for _, c := range convs {
		c = c.clone()
		c.PeerTyping = false
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		seen := make(map[string]int, len(c.Messages))
		for i, m := range c.Messages {
			seen[m.ID] = i
		}
		s.entries[c.SessionID] = &entry{conv: c, seen: seen}
	}
	s.mu.Unlock()

	for _, c := range convs {
		s.notify(c.SessionID)
	}
}

// Close stops pending typing timers.
func (s *Store) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		e.mu.Lock()
		if e.typingTimer != nil {
			e.typingTimer.Stop()
			e.typingTimer = nil
		}
		e.typingGen++
		e.mu.Unlock()
	}
}
