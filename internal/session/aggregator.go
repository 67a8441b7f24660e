// Package session is the admin's view over every known conversation.
package session

import (
	"sort"
	"strings"

	"go-livechat/internal/conversation"
)

// Reader marks a conversation read and acknowledges it to the peer.
// The delivery tracker implements it.
type Reader interface {
	MarkRead(sessionID string) bool
}

// Filter narrows Sessions. The zero value returns everything.
type Filter struct {
	UnreadOnly bool
	// Query matches case-insensitively against the session id and the
	// customer's name and email.
	Query string
}

func (f Filter) match(c conversation.Conversation) bool {
	if f.UnreadOnly && c.UnreadCount == 0 {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	fields := []string{c.SessionID}
	if c.CustomerInfo != nil {
		fields = append(fields, c.CustomerInfo.Name, c.CustomerInfo.Email)
	}
	for _, s := range fields {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// Aggregator derives the sorted session list and unread totals from the store.
// It holds no state of its own beyond the store.
type Aggregator struct {
	store  *conversation.Store
	reader Reader
}

func NewAggregator(store *conversation.Store, reader Reader) *Aggregator {
	return &Aggregator{store: store, reader: reader}
}

// Sessions returns matching conversations, most recently active first.
func (a *Aggregator) Sessions(f Filter) []conversation.Summary {
	convs := a.store.List()
	out := make([]conversation.Summary, 0, len(convs))
	for _, c := range convs {
		if f.match(c) {
			out = append(out, c.Summarize())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].LastActive.After(out[j].LastActive)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// TotalUnreadCount sums unread counters across all conversations.
func (a *Aggregator) TotalUnreadCount() int {
	total := 0
	for _, c := range a.store.List() {
		total += c.UnreadCount
	}
	return total
}

// MarkSessionAsRead zeroes one conversation's unread counter. Idempotent.
func (a *Aggregator) MarkSessionAsRead(sessionID string) bool {
	if a.reader != nil {
		return a.reader.MarkRead(sessionID)
	}
	_, changed := a.store.MarkRead(sessionID, conversation.SenderSupport)
	return changed
}

// Select focuses a conversation; selecting implies reading it.
func (a *Aggregator) Select(sessionID string) {
	a.store.SetActive(sessionID)
	if sessionID != "" {
		a.MarkSessionAsRead(sessionID)
	}
}

// Deselect clears the focus, so new messages count as unread again.
func (a *Aggregator) Deselect() {
	a.store.SetActive("")
}

// Active returns the focused session id, or "".
func (a *Aggregator) Active() string {
	return a.store.Active()
}
