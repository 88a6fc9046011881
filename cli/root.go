// Package cli wires the gochat commands: the long-running client daemon
// and one-shot queue and send operations.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gochat/config"
	"gochat/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	UserID  string
}

// NewRootCommand creates the root command for the gochat CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gochat",
		Short: "GoChat - offline-resilient one-to-one chat client",
		Long:  "A one-to-one chat client that queues sends while offline and replays them on reconnect.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.UserID, "user", "", "local user id (overrides the configured one)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads (or creates) the device config and applies flag
// overrides.
func loadConfig(opts *RootOptions) (*config.DeviceConfig, string, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if opts.UserID != "" {
		cfg.UserID = opts.UserID
	}
	if cfg.UserID == "" {
		return nil, "", fmt.Errorf("no user id configured: sign in first or pass --user")
	}
	return cfg, cfgPath, nil
}

// openStorage opens the durable store, degrading to a non-durable
// in-memory database when the local cache is unavailable. The client
// still runs, remote-only, rather than refusing to start.
func openStorage(dataDir string, logger *slog.Logger) *storage.Store {
	store, dbPath, err := storage.Open(dataDir)
	if err == nil {
		logger.Debug("local cache open", "path", dbPath)
		return store
	}

	logger.Error("local cache unavailable, running without offline support", "error", err)
	fallback, memErr := storage.OpenPath(":memory:")
	if memErr != nil {
		logger.Error("in-memory cache fallback failed", "error", memErr)
		return nil
	}
	return fallback
}
