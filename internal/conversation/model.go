package conversation

import "time"

// Sender is the local vocabulary for a message author.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderSupport  Sender = "support"
	SenderSystem   Sender = "system"
)

// DeliveryStatus is the lifecycle of a message. It only ever moves forward.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Before reports whether s is an earlier lifecycle stage than other.
func (s DeliveryStatus) Before(other DeliveryStatus) bool {
	return s.rank() < other.rank()
}

// Message is one entry of a conversation log.
type Message struct {
	ID             string         `json:"id"`
	Sender         Sender         `json:"sender"`
	Text           string         `json:"text"`
	Timestamp      string         `json:"timestamp"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
}

// CustomerInfo is optional metadata the admin side attaches to a conversation.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Conversation is one customer's chat, keyed by SessionID.
// Values handed out by the Store are copies.
type Conversation struct {
	SessionID    string        `json:"sessionId"`
	Messages     []Message     `json:"messages"`
	UnreadCount  int           `json:"unreadCount"`
	LastActive   time.Time     `json:"lastActive"`
	CustomerInfo *CustomerInfo `json:"customerInfo,omitempty"`

	// PeerTyping is transient and never persisted.
	PeerTyping bool `json:"-"`
}

// LastMessage returns the newest message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Summary is what notifiers and session lists get to see.
type Summary struct {
	SessionID    string
	CustomerInfo *CustomerInfo
	UnreadCount  int
	LastActive   time.Time
	LastMessage  *Message
}

// Summarize builds a Summary from a conversation copy.
func (c Conversation) Summarize() Summary {
	s := Summary{
		SessionID:    c.SessionID,
		CustomerInfo: c.CustomerInfo,
		UnreadCount:  c.UnreadCount,
		LastActive:   c.LastActive,
	}
	if m, ok := c.LastMessage(); ok {
		s.LastMessage = &m
	}
	return s
}

func (c Conversation) clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.CustomerInfo != nil {
		info := *c.CustomerInfo
		out.CustomerInfo = &info
	}
	return out
}
