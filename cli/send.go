package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gochat/config"
	"gochat/connectivity"
	"gochat/models"
	"gochat/queue"
	"gochat/remote"
)

// NewSendCommand creates the one-shot send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kind     string
		fileName string
	)

	cmd := &cobra.Command{
		Use:   "send <receiver-user-id> <content>",
		Short: "Send one message, queueing it when offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOnce(rootOpts, args[0], args[1], kind, fileName)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", models.KindText, "message kind (text|image)")
	cmd.Flags().StringVar(&fileName, "file-name", "", "original file name for image payloads")

	return cmd
}

func sendOnce(rootOpts *RootOptions, receiverID, content, kind, fileName string) error {
	cfg, _, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	logger := slog.Default()

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		return err
	}
	store := openStorage(dataDir, logger)
	if store != nil {
		defer func() {
			_ = store.Close()
		}()
	}

	monitor := connectivity.NewMonitor()
	monitor.Start()
	defer monitor.Stop()

	client, err := remote.NewClient(remote.ClientOptions{
		URL:           cfg.BackendURL,
		AppID:         cfg.AppID,
		Logger:        logger,
		OnStateChange: monitor.SetOnline,
	})
	if err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	// Give the connection a moment; an unreachable backend just means the
	// message queues.
	waitForConnection(monitor, 3*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if store == nil {
		// No engine without a local queue, but the same send rules apply.
		kind, err := queue.ValidateOutgoing(receiverID, content, kind)
		if err != nil {
			return err
		}
		message := models.Message{
			MessageID:      uuid.NewString(),
			ConversationID: models.ConversationID(cfg.UserID, receiverID),
			SenderID:       cfg.UserID,
			ReceiverID:     receiverID,
			Content:        content,
			Kind:           kind,
			FileName:       fileName,
			ComposedAt:     time.Now().UnixMilli(),
		}
		confirmed, err := client.CreateMessage(ctx, message)
		if err != nil {
			return fmt.Errorf("send failed and no local queue is available: %w", err)
		}
		fmt.Printf("sent %s\n", confirmed.MessageID)
		return nil
	}

	engine, err := queue.NewEngine(queue.Options{
		SelfID:      cfg.UserID,
		Store:       store,
		Remote:      client,
		Monitor:     monitor,
		SendTimeout: time.Duration(cfg.SendTimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// Replay anything still waiting before this send goes out.
	engine.Drain(ctx)

	result, err := engine.Send(ctx, receiverID, content, kind, fileName)
	if err != nil {
		return err
	}
	if result.Queued {
		fmt.Printf("queued %s (will send on reconnect)\n", result.Message.MessageID)
		return nil
	}
	fmt.Printf("sent %s\n", result.Message.MessageID)
	return nil
}

func waitForConnection(monitor *connectivity.Monitor, timeout time.Duration) {
	if monitor.Online() {
		return
	}

	events := monitor.Subscribe()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type == connectivity.EventOnline {
				return
			}
		case <-deadline.C:
			return
		}
	}
}
