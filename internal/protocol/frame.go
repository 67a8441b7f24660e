package protocol

import "time"

// FrameType is the discriminator carried in every envelope.
type FrameType string

const (
	TypeInit        FrameType = "init"
	TypeMessage     FrameType = "message"
	TypeTyping      FrameType = "typing"
	TypeHistory     FrameType = "history"
	TypeSessionList FrameType = "session_list"
	TypeAck         FrameType = "ack"
)

// Role is the endpoint role announced by the init frame.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Sender is the wire vocabulary for who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAdmin    Sender = "admin"
	SenderSystem   Sender = "system"
)

// AckStatus is carried by ack frames.
type AckStatus string

const (
	AckDelivered AckStatus = "delivered"
	AckRead      AckStatus = "read"
)

// CustomerInfo is attached by the admin side when known.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SessionSummary is one row of a session_list frame.
type SessionSummary struct {
	SessionID    string        `json:"sessionId"`
	CustomerInfo *CustomerInfo `json:"customerInfo,omitempty"`
	LastActive   string        `json:"lastActive,omitempty"`
	Online       bool          `json:"online,omitempty"`
}

// Frame is the single envelope exchanged over the connection.
// Optional fields are omitted from the JSON when empty.
type Frame struct {
	Type         FrameType        `json:"type"`
	Role         Role             `json:"role,omitempty"`
	SessionID    string           `json:"sessionId,omitempty"`
	MessageID    string           `json:"messageId,omitempty"`
	Content      string           `json:"content,omitempty"`
	Sender       Sender           `json:"sender,omitempty"`
	IsTyping     *bool            `json:"isTyping,omitempty"`
	Status       AckStatus        `json:"status,omitempty"`
	Timestamp    string           `json:"timestamp"`
	Messages     []Frame          `json:"messages,omitempty"`
	Sessions     []SessionSummary `json:"sessions,omitempty"`
	CustomerInfo *CustomerInfo    `json:"customerInfo,omitempty"`
}

// Now formats t the way every frame timestamp is written.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t as an ISO-8601 timestamp with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTime accepts any RFC 3339 timestamp, with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// NewInit builds the handshake frame for a role. sessionID is only used by customers.
func NewInit(role Role, sessionID string) Frame {
	return Frame{Type: TypeInit, Role: role, SessionID: sessionID, Timestamp: Now()}
}

// NewMessage builds a message frame.
func NewMessage(sessionID, messageID string, sender Sender, content, timestamp string) Frame {
	return Frame{
		Type:      TypeMessage,
		SessionID: sessionID,
		MessageID: messageID,
		Sender:    sender,
		Content:   content,
		Timestamp: timestamp,
	}
}

// NewTyping builds a typing frame.
func NewTyping(sessionID string, sender Sender, typing bool) Frame {
	return Frame{
		Type:      TypeTyping,
		SessionID: sessionID,
		Sender:    sender,
		IsTyping:  &typing,
		Timestamp: Now(),
	}
}

// NewAck builds an acknowledgement for messageID.
func NewAck(sessionID, messageID string, status AckStatus) Frame {
	return Frame{
		Type:      TypeAck,
		SessionID: sessionID,
		MessageID: messageID,
		Status:    status,
		Timestamp: Now(),
	}
}

// NewHistory builds a history snapshot for a session.
func NewHistory(sessionID string, messages []Frame) Frame {
	if messages == nil {
		messages = []Frame{}
	}
	return Frame{Type: TypeHistory, SessionID: sessionID, Messages: messages, Timestamp: Now()}
}

// NewSessionList builds a roster update for admins.
func NewSessionList(sessions []SessionSummary) Frame {
	if sessions == nil {
		sessions = []SessionSummary{}
	}
	return Frame{Type: TypeSessionList, Sessions: sessions, Timestamp: Now()}
}

// Typing reports the isTyping flag, treating a missing flag as false.
func (f Frame) Typing() bool {
	return f.IsTyping != nil && *f.IsTyping
}
