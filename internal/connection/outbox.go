package connection

import "go-livechat/internal/protocol"

// outbox holds frames submitted while the transport was not ready, in
// submission order, keyed by frame type and message id.
type outbox struct {
	frames []protocol.Frame
	keys   map[string]struct{}
}

func newOutbox() *outbox {
	return &outbox{keys: make(map[string]struct{})}
}

func outboxKey(f protocol.Frame) string {
	return string(f.Type) + ":" + f.SessionID + ":" + f.MessageID
}

// queueable reports whether f survives a disconnect. Typing signals are
// stale by the time we reconnect, and init is rebuilt on every open.
func queueable(f protocol.Frame) bool {
	switch f.Type {
	case protocol.TypeMessage, protocol.TypeAck:
		return f.MessageID != ""
	default:
		return false
	}
}

// push appends f unless a frame with the same key is already waiting.
func (o *outbox) push(f protocol.Frame) bool {
	k := outboxKey(f)
	if _, ok := o.keys[k]; ok {
		return false
	}
	o.keys[k] = struct{}{}
	o.frames = append(o.frames, f)
	return true
}

func (o *outbox) front() (protocol.Frame, bool) {
	if len(o.frames) == 0 {
		return protocol.Frame{}, false
	}
	return o.frames[0], true
}

// pop removes the front frame if it still is f.
func (o *outbox) pop(f protocol.Frame) {
	if len(o.frames) == 0 || outboxKey(o.frames[0]) != outboxKey(f) {
		return
	}
	delete(o.keys, outboxKey(f))
	o.frames[0] = protocol.Frame{}
	o.frames = o.frames[1:]
}

func (o *outbox) len() int { return len(o.frames) }

func (o *outbox) snapshot() []protocol.Frame {
	return append([]protocol.Frame(nil), o.frames...)
}
