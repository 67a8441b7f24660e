package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned for payloads that do not conform to the envelope.
var ErrMalformed = errors.New("malformed frame")

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	if f.Timestamp == "" {
		f.Timestamp = Now()
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

// MustEncode is Encode for frames built by this package, which always marshal.
func MustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses and validates one inbound frame.
// Every failure wraps ErrMalformed so callers can drop the frame and keep going.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the per-type required fields.
func Validate(f Frame) error {
	switch f.Type {
	case TypeInit:
		switch f.Role {
		case RoleCustomer:
			if f.SessionID == "" {
				return malformed(f, "customer init without sessionId")
			}
		case RoleAdmin:
		default:
			return malformed(f, fmt.Sprintf("unknown role %q", f.Role))
		}
	case TypeMessage:
		if f.SessionID == "" || f.MessageID == "" {
			return malformed(f, "missing sessionId or messageId")
		}
		if f.Content == "" {
			return malformed(f, "empty content")
		}
		if !validSender(f.Sender) {
			return malformed(f, fmt.Sprintf("unknown sender %q", f.Sender))
		}
		if _, err := ParseTime(f.Timestamp); err != nil {
			return malformed(f, "bad timestamp")
		}
	case TypeTyping:
		if f.SessionID == "" {
			return malformed(f, "missing sessionId")
		}
	case TypeHistory:
		if f.SessionID == "" {
			return malformed(f, "missing sessionId")
		}
		for _, m := range f.Messages {
			m.SessionID = f.SessionID
			if m.Type == "" {
				m.Type = TypeMessage
			}
			if err := Validate(m); err != nil {
				return err
			}
		}
	case TypeSessionList:
		for _, s := range f.Sessions {
			if s.SessionID == "" {
				return malformed(f, "session without sessionId")
			}
		}
	case TypeAck:
		if f.SessionID == "" || f.MessageID == "" {
			return malformed(f, "missing sessionId or messageId")
		}
		if f.Status != AckDelivered && f.Status != AckRead {
			return malformed(f, fmt.Sprintf("unknown ack status %q", f.Status))
		}
	default:
		return malformed(f, fmt.Sprintf("unknown type %q", f.Type))
	}
	return nil
}

func validSender(s Sender) bool {
	return s == SenderCustomer || s == SenderAdmin || s == SenderSystem
}

func malformed(f Frame, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, f.Type, reason)
}
