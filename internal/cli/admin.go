package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"go-livechat/internal/client"
	"go-livechat/internal/conversation"
	"go-livechat/internal/router"
	"go-livechat/internal/session"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Answer customers as a support agent",
	Long: `Open the support side: every customer session over one connection.

Plain lines are sent to the selected session. Session ids may be abbreviated
to any unique prefix.

Commands:
  /sessions [query]   list sessions, newest first
  /unread             list sessions with unread messages
  /select <id>        focus a session (marks it read)
  /deselect           clear the focus
  /read <id>          mark a session read without focusing it
  /quit               leave

Examples:
  chatctl admin --token $AGENT_TOKEN
  chatctl admin -s wss://support.example.com/ws`,
	RunE: runAdmin,
}

func runAdmin(cmd *cobra.Command, args []string) error {
	opts, cleanup, err := clientOptions("admin")
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	opts.Notifier = router.NotifierFunc(func(s conversation.Summary) {
		fmt.Fprintf(out, "🔔 %s has %d unread\n", displayName(s), s.UnreadCount)
	})

	admin, err := client.NewAdmin(opts)
	if err != nil {
		return err
	}
	defer admin.Close()

	t := newTranscript(out, true)
	admin.Observe(func(id string) {
		if c, ok := admin.Conversation(id); ok {
			t.update(c)
		}
	})

	fmt.Fprintf(out, "connecting to %s\n", cfg.Client.ServerURL)
	admin.Open()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	sh := &adminShell{admin: admin, out: out}
	return readLines(ctx, cmd.InOrStdin(), out, sh.exec)
}

type adminActions interface {
	SendText(sessionID, text string) (conversation.Message, error)
	Select(sessionID string)
	Deselect()
	Sessions(f session.Filter) []conversation.Summary
	TotalUnreadCount() int
	MarkSessionAsRead(sessionID string) bool
}

type adminShell struct {
	admin    adminActions
	out      io.Writer
	selected string
}

var errNoSelection = errors.New("no session selected, use /select <id>")

func (sh *adminShell) exec(line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		if sh.selected == "" {
			return false, errNoSelection
		}
		_, err := sh.admin.SendText(sh.selected, line)
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true, nil
	case "/sessions":
		sh.list(session.Filter{Query: strings.Join(fields[1:], " ")})
	case "/unread":
		sh.list(session.Filter{UnreadOnly: true})
	case "/select":
		id, err := sh.resolve(fields)
		if err != nil {
			return false, err
		}
		sh.selected = id
		sh.admin.Select(id)
		fmt.Fprintf(sh.out, "selected %s\n", id)
	case "/deselect":
		sh.selected = ""
		sh.admin.Deselect()
	case "/read":
		id, err := sh.resolve(fields)
		if err != nil {
			return false, err
		}
		if !sh.admin.MarkSessionAsRead(id) {
			fmt.Fprintf(sh.out, "%s was already read\n", shortID(id))
		}
	case "/help":
		fmt.Fprintln(sh.out, "/sessions [query], /unread, /select <id>, /deselect, /read <id>, /quit")
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (sh *adminShell) list(f session.Filter) {
	sessions := sh.admin.Sessions(f)
	if len(sessions) == 0 {
		fmt.Fprintln(sh.out, "no sessions")
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.SessionID == sh.selected {
			marker = "*"
		}
		last := ""
		if s.LastMessage != nil {
			last = s.LastMessage.Text
		}
		fmt.Fprintf(sh.out, "%s %-8s %-20s %3d  %s\n", marker, shortID(s.SessionID), displayName(s), s.UnreadCount, last)
	}
	fmt.Fprintf(sh.out, "total unread: %d\n", sh.admin.TotalUnreadCount())
}

// resolve expands a unique session id prefix.
func (sh *adminShell) resolve(fields []string) (string, error) {
	if len(fields) < 2 {
		return "", fmt.Errorf("usage: %s <id>", fields[0])
	}
	prefix := fields[1]
	var match string
	for _, s := range sh.admin.Sessions(session.Filter{}) {
		if s.SessionID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(s.SessionID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%s is ambiguous", prefix)
			}
			match = s.SessionID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no session %s", prefix)
	}
	return match, nil
}

func displayName(s conversation.Summary) string {
	if s.CustomerInfo != nil {
		if s.CustomerInfo.Name != "" {
			return s.CustomerInfo.Name
		}
		if s.CustomerInfo.Email != "" {
			return s.CustomerInfo.Email
		}
	}
	return shortID(s.SessionID)
}
