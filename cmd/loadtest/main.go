package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go-livechat/internal/client"
	"go-livechat/internal/config"
	"go-livechat/internal/connection"
	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
	"go-livechat/internal/session"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket endpoint")
	customers := flag.Int("customers", 50, "concurrent customers")
	messages := flag.Int("messages", 20, "messages per customer")
	token := flag.String("token", os.Getenv("LIVECHAT_TOKEN"), "admin token")
	timeout := flag.Duration("timeout", time.Minute, "how long to wait for delivery")
	flag.Parse()

	logger, closeLog := config.SetupLogger(config.LoggingConfig{Level: "warn"})
	defer closeLog()

	logger.Warn(fmt.Sprintf("🔥 STARTING STRESS TEST: %d customers, %d messages each", *customers, *messages))

	var header http.Header
	if *token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + *token}}
	}
	admin, err := client.NewAdmin(client.Options{
		Dialer: connection.WebSocketDialer{URL: *url, Header: header},
		Logger: logger,
	})
	if err != nil {
		logger.Error("❌ Admin setup failed", "error", err)
		os.Exit(1)
	}
	defer admin.Close()
	admin.Open()

	var sent atomic.Int64
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *customers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			n, err := runCustomer(*url, id, *messages, logger)
			if err != nil {
				logger.Error("❌ Customer failed", "customer", id, "error", err)
			}
			sent.Add(int64(n))
		}(i)
	}
	wg.Wait()

	want := int(sent.Load())
	deadline := time.Now().Add(*timeout)
	for received(admin) < want && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	got := received(admin)
	elapsed := time.Since(start)
	logger.Warn("✅ LOAD TEST COMPLETE",
		"sent", want,
		"received_by_admin", got,
		"elapsed", elapsed.Round(time.Millisecond),
		"msgs_per_sec", fmt.Sprintf("%.1f", float64(got)/elapsed.Seconds()),
	)
	if got < want {
		os.Exit(1)
	}
}

// runCustomer sends count messages and waits until each has left pending.
func runCustomer(url string, id, count int, logger *slog.Logger) (int, error) {
	cu, err := client.NewCustomer(client.Options{
		Dialer: connection.WebSocketDialer{URL: url},
		Logger: logger,
	}, &protocol.CustomerInfo{Name: fmt.Sprintf("loadtest-%d", id)})
	if err != nil {
		return 0, err
	}
	defer cu.Close()
	cu.Open()

	for i := 0; i < count; i++ {
		if _, err := cu.SendText(fmt.Sprintf("LoadTest Msg %d from customer %d", i, id)); err != nil {
			return i, err
		}
		// Simulate a human-ish pace so localhost is not the only bottleneck.
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if pending(cu) == 0 {
			return count, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return count - pending(cu), fmt.Errorf("%d messages still pending", pending(cu))
}

func pending(cu *client.Customer) int {
	n := 0
	for _, m := range cu.Conversation().Messages {
		if m.DeliveryStatus == conversation.StatusPending {
			n++
		}
	}
	return n
}

func received(admin *client.Admin) int {
	n := 0
	for _, s := range admin.Sessions(session.Filter{}) {
		if c, ok := admin.Conversation(s.SessionID); ok {
			n += len(c.Messages)
		}
	}
	return n
}
