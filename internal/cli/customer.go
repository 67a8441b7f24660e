package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"go-livechat/internal/client"
	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
)

var (
	customerName  string
	customerEmail string
)

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Chat with support as a customer",
	Long: `Open the customer side of a conversation.

The session id is kept in the data directory, so restarting continues the
same conversation. Messages typed while the relay is unreachable are sent
once it is back.

Commands:
  /status   connection state and delivery status of your messages
  /quit     leave

Examples:
  chatctl customer --name Ada --email ada@example.com
  chatctl customer -d ~/.livechat`,
	RunE: runCustomer,
}

func init() {
	customerCmd.Flags().StringVar(&customerName, "name", "", "your name, shown to support")
	customerCmd.Flags().StringVar(&customerEmail, "email", "", "your email, shown to support")
}

func runCustomer(cmd *cobra.Command, args []string) error {
	opts, cleanup, err := clientOptions("customer")
	if err != nil {
		return err
	}
	defer cleanup()

	var info *protocol.CustomerInfo
	if customerName != "" || customerEmail != "" {
		info = &protocol.CustomerInfo{Name: customerName, Email: customerEmail}
	}

	out := cmd.OutOrStdout()
	cu, err := client.NewCustomer(opts, info)
	if err != nil {
		return err
	}
	defer cu.Close()

	t := newTranscript(out, false)
	cu.Observe(func(string) { t.update(cu.Conversation()) })
	cu.SetVisible(true)
	t.update(cu.Conversation())

	fmt.Fprintf(out, "session %s, connecting to %s\n", cu.SessionID(), cfg.Client.ServerURL)
	cu.Open()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return readLines(ctx, cmd.InOrStdin(), out, customerShell(cu, out))
}

type customerActions interface {
	SendText(text string) (conversation.Message, error)
	Conversation() conversation.Conversation
	Connected() bool
	LastError() string
}

func customerShell(cu customerActions, out io.Writer) lineHandler {
	return func(line string) (bool, error) {
		if !strings.HasPrefix(line, "/") {
			_, err := cu.SendText(line)
			return false, err
		}

		switch fields := strings.Fields(line); fields[0] {
		case "/quit":
			return true, nil
		case "/status":
			state := "offline"
			if cu.Connected() {
				state = "online"
			} else if e := cu.LastError(); e != "" {
				state = "offline (" + e + ")"
			}
			fmt.Fprintln(out, state)
			for _, m := range cu.Conversation().Messages {
				if m.Sender == conversation.SenderCustomer {
					fmt.Fprintf(out, "  %-9s %s\n", m.DeliveryStatus, m.Text)
				}
			}
			return false, nil
		case "/help":
			fmt.Fprintln(out, "/status, /quit; anything else is sent")
			return false, nil
		default:
			return false, fmt.Errorf("unknown command %s", fields[0])
		}
	}
}
