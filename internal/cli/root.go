// Package cli provides chatctl, a terminal client for both sides of a
// support conversation.
package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go-livechat/internal/client"
	"go-livechat/internal/config"
	"go-livechat/internal/connection"
	"go-livechat/internal/localstore"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	dataDir   string
	token     string
	verbose   bool

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Live support chat from the terminal",
	Long: `chatctl connects to a livechat relay as a customer or as a support agent.

Lines typed on stdin are sent as messages. Lines starting with / are commands;
type /help inside a session to list them.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("server") {
			cfg.Client.ServerURL = serverURL
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.Client.DataDir = dataDir
		}
		if cmd.Flags().Changed("token") {
			cfg.Client.Token = token
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		logger, closeLog = config.SetupLogger(cfg.Logging)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "relay websocket URL (default from LIVECHAT_SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "directory for the local conversation store")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "agent token for admin sessions")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(customerCmd)
	rootCmd.AddCommand(adminCmd)
}

// clientOptions builds the options shared by both roles. The returned
// cleanup closes the local store, if one was opened.
func clientOptions(role string) (client.Options, func(), error) {
	c := cfg.Client
	var header http.Header
	if c.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.Token}}
	}

	opts := client.Options{
		Dialer:            connection.WebSocketDialer{URL: c.ServerURL, Header: header},
		Logger:            logger,
		SettleDelay:       c.SettleDelay.Duration(),
		ReconnectInterval: c.ReconnectInterval.Duration(),
		Backoff:           connection.BackoffMode(c.Backoff),
		TypingInterval:    c.TypingInterval.Duration(),
	}
	if c.DataDir == "" {
		return opts, func() {}, nil
	}

	db, err := localstore.Open(filepath.Join(c.DataDir, role))
	if err != nil {
		return client.Options{}, nil, fmt.Errorf("open local store: %w", err)
	}
	opts.KV = db
	opts.Snapshots = db
	return opts, func() { db.Close() }, nil
}
