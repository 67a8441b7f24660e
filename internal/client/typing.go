package client

import (
	"sync"
	"time"

	"go-livechat/internal/delivery"
	"go-livechat/internal/protocol"
	"go-livechat/internal/typing"
)

// typingSender keeps one debouncer per session and turns its transitions
// into typing frames. Typing frames are never queued while offline.
type typingSender struct {
	conn     delivery.Transmitter
	sender   protocol.Sender
	interval time.Duration

	mu      sync.Mutex
	byID    map[string]*typing.Debouncer
	stopped bool
}

func newTypingSender(conn delivery.Transmitter, sender protocol.Sender, interval time.Duration) *typingSender {
	return &typingSender{
		conn:     conn,
		sender:   sender,
		interval: interval,
		byID:     make(map[string]*typing.Debouncer),
	}
}

func (s *typingSender) debouncer(sessionID string) *typing.Debouncer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	d, ok := s.byID[sessionID]
	if !ok {
		var opts []typing.Option
		if s.interval > 0 {
			opts = append(opts, typing.WithInterval(s.interval))
		}
		d = typing.New(func(on bool) {
			s.conn.Send(protocol.NewTyping(sessionID, s.sender, on))
		}, opts...)
		s.byID[sessionID] = d
	}
	return d
}

func (s *typingSender) input(sessionID, text string) {
	if d := s.debouncer(sessionID); d != nil {
		d.Input(text)
	}
}

func (s *typingSender) reset(sessionID string) {
	s.mu.Lock()
	d := s.byID[sessionID]
	s.mu.Unlock()
	if d != nil {
		d.Reset()
	}
}

func (s *typingSender) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, d := range s.byID {
		d.Stop()
	}
}
