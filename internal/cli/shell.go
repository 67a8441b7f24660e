package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
)

// lineHandler runs one input line. quit ends the session.
type lineHandler func(line string) (quit bool, err error)

// readLines feeds r to handle until EOF, /quit or ctx is done. Handler
// errors are printed, not fatal.
func readLines(ctx context.Context, r io.Reader, out io.Writer, handle lineHandler) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			quit, err := handle(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// transcript prints each conversation's messages once. A shorter log than
// already printed means history replaced it, so it is printed again.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]int
	label   bool
}

func newTranscript(out io.Writer, label bool) *transcript {
	return &transcript{out: out, printed: make(map[string]int), label: label}
}

func (t *transcript) update(c conversation.Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.printed[c.SessionID]
	if len(c.Messages) < from {
		fmt.Fprintf(t.out, "-- history %s --\n", shortID(c.SessionID))
		from = 0
	}
	for _, m := range c.Messages[from:] {
		fmt.Fprintln(t.out, t.format(c.SessionID, m))
	}
	t.printed[c.SessionID] = len(c.Messages)
}

func (t *transcript) format(sessionID string, m conversation.Message) string {
	clock := m.Timestamp
	if ts, err := protocol.ParseTime(m.Timestamp); err == nil {
		clock = ts.Local().Format("15:04")
	}
	if t.label {
		return fmt.Sprintf("[%s %s] %s: %s", clock, shortID(sessionID), m.Sender, m.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", clock, m.Sender, m.Text)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
