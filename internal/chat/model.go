package chat

import (
	"time"

	"go-livechat/internal/protocol"
)

// ---------------------------------------------
// 🗄️ Database Models
// ---------------------------------------------

// ArchivedMessage is one row of the transcript archive.
type ArchivedMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"` // wire vocabulary: customer, admin, system
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// ---------------------------------------------
// ⚡ Internal Hub Models
// ---------------------------------------------

// Envelope is what travels through the broker: a validated frame plus
// enough context for every instance to route it to its own sockets.
type Envelope struct {
	Origin string         `json:"origin"` // relay instance id
	ConnID string         `json:"connId"` // sending socket, excluded from echo
	From   protocol.Role  `json:"from"`
	Frame  protocol.Frame `json:"frame"`
}

// directMessage is a reply addressed to one socket.
type directMessage struct {
	client  *Client
	payload []byte
}
