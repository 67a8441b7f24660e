package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"go-livechat/internal/protocol"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 32 * 1024           // Maximum frame size allowed from peer.
	sendBuffer     = 256
)

// Client is a middleman between one websocket connection and the hub.
// role and sessionID are fixed by the init frame before the client is
// registered and never change afterwards.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound frames. Only the hub closes it once registered.
	send chan []byte

	id           string
	role         protocol.Role
	sessionID    string
	adminAllowed bool
	limiter      *rate.Limiter
	log          *slog.Logger
}

// ReadPump pumps frames from the websocket connection to the hub.
func (c *Client) ReadPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.leave(c)
		} else {
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("socket read failed", "error", err)
			}
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			droppedFramesMetric.WithLabelValues("malformed").Inc()
			c.log.Debug("dropping malformed frame", "error", err)
			continue
		}
		if !c.admit(f) {
			continue
		}

		if !registered {
			if f.Type != protocol.TypeInit {
				droppedFramesMetric.WithLabelValues("before_init").Inc()
				continue
			}
			if !c.identify(f) || !c.hub.join(c) {
				return
			}
			registered = true
			c.hub.welcome(c, f)
			continue
		}

		c.hub.handle(c, f)
	}
}

// admit applies the inbound rate limit. Typing frames over the limit are
// dropped. Everything else waits for a token, so a flushed outbox is slowed
// down but never lost.
func (c *Client) admit(f protocol.Frame) bool {
	if c.limiter == nil {
		return true
	}
	if f.Type == protocol.TypeTyping {
		if !c.limiter.Allow() {
			droppedFramesMetric.WithLabelValues("rate_limited").Inc()
			return false
		}
		return true
	}
	if err := c.limiter.Wait(context.Background()); err != nil {
		c.log.Warn("rate limiter refused frame", "type", f.Type, "error", err)
		return false
	}
	return true
}

// identify fixes the socket's role from its init frame.
func (c *Client) identify(init protocol.Frame) bool {
	switch init.Role {
	case protocol.RoleCustomer:
		c.role = protocol.RoleCustomer
		c.sessionID = init.SessionID
	case protocol.RoleAdmin:
		if !c.adminAllowed {
			droppedFramesMetric.WithLabelValues("unauthorized").Inc()
			c.log.Warn("rejecting admin init without valid token")
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "admin token required"),
				time.Now().Add(writeWait))
			return false
		}
		c.role = protocol.RoleAdmin
	default:
		return false
	}
	c.log = c.log.With("role", c.role, "session", c.sessionID)
	return true
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			// Set a write deadline so we don't hang forever
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message; peers decode each message as one JSON object.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
