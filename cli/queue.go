package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"gochat/config"
	"gochat/models"
	"gochat/notify"
)

// NewQueueCommand creates the queue inspection command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the offline send queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))

	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued sends awaiting delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueueStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			records, err := store.Queued()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("queue is empty")
				return nil
			}

			for _, record := range records {
				composed := time.UnixMilli(record.ComposedAt).Format(time.RFC3339)
				fmt.Printf("%4d  %s  to=%s  %s\n",
					record.Seq, composed, record.ReceiverID,
					notify.Preview(record.Content, record.Kind, 60))
			}
			return nil
		},
	}
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <seq>",
		Short: "Remove one queued send by sequence id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence id %q", args[0])
			}

			store, err := openQueueStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			if err := store.ClearQueued(seq); err != nil {
				return err
			}
			fmt.Printf("cleared %d\n", seq)
			return nil
		},
	}
}

func openQueueStore() (queueStore, error) {
	dataDir, err := config.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	store := openStorage(dataDir, slog.Default())
	if store == nil {
		return nil, fmt.Errorf("local cache unavailable")
	}
	return store, nil
}

// queueStore narrows storage.Store to what the queue commands need.
type queueStore interface {
	Queued() ([]models.QueuedSend, error)
	ClearQueued(seq int64) error
	Close() error
}
