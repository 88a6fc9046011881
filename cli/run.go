package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gochat/config"
	"gochat/connectivity"
	"gochat/models"
	"gochat/notify"
	"gochat/queue"
	"gochat/remote"
	"gochat/view"
)

// NewRunCommand creates the long-running client daemon command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var peerID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the chat client daemon",
		Long:  "Connects to the backend, keeps presence fresh, drains the send queue on every reconnect, and optionally follows one conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, peerID)
		},
	}

	cmd.Flags().StringVar(&peerID, "peer", "", "follow the conversation with this user id")

	return cmd
}

func runDaemon(rootOpts *RootOptions, peerID string) error {
	cfg, cfgPath, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	logger := slog.Default()

	fmt.Printf("User ID:         %s\n", cfg.UserID)
	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Backend:         %s\n", cfg.BackendURL)
	fmt.Printf("Config File:     %s\n", cfgPath)

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		return err
	}
	store := openStorage(dataDir, logger)
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close local cache", "error", err)
			}
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

	var engine *queue.Engine
	if store != nil {
		engine, err = queue.NewEngine(queue.Options{
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
		engine.Start()
		defer engine.Stop()
	} else {
		logger.Warn("send queue disabled: local cache unavailable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go heartbeatLoop(ctx, client, monitor, cfg, logger)

	if cfg.DeviceToken != "" {
		registerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.RegisterDeviceToken(registerCtx, cfg.UserID, cfg.DeviceToken); err != nil {
			logger.Warn("register device token", "error", err)
		}
		cancel()
	}

	if peerID != "" && store != nil {
		conversation, err := view.Open(ctx, view.Options{
			SelfID:  cfg.UserID,
			Store:   store,
			Remote:  client,
			Monitor: monitor,
			Logger:  logger,
		}, peerID)
		if err != nil {
			return fmt.Errorf("open conversation with %q: %w", peerID, err)
		}
		defer conversation.Close()

		dispatcher := notify.NewDispatcher(notify.Options{
			Notifier:     terminalNotifier{},
			Available:    cfg.NotificationsEnabled,
			PreviewRunes: cfg.NotificationPreviewRunes,
			Logger:       logger,
		})
		go followConversation(ctx, conversation, dispatcher, cfg, client)
		fmt.Printf("Conversation:    %s\n", conversation.ConversationID())
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
	return nil
}

// heartbeatLoop refreshes the presence record while online.
func heartbeatLoop(ctx context.Context, client *remote.Client, monitor *connectivity.Monitor, cfg *config.DeviceConfig, logger *slog.Logger) {
	interval := time.Duration(cfg.HeartbeatSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !monitor.Online() {
				continue
			}
			beatCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := client.Heartbeat(beatCtx, cfg.UserID); err != nil {
				logger.Debug("presence heartbeat", "error", err)
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// followConversation prints display updates and routes notification
// candidates through the dispatcher. A headless daemon is never focused,
// so suppression reduces to the active-conversation check and override.
func followConversation(ctx context.Context, conversation *view.Conversation, dispatcher *notify.Dispatcher, cfg *config.DeviceConfig, client *remote.Client) {
	notifyCtx := notify.Context{
		Focused:              false,
		ActiveConversationID: conversation.ConversationID(),
		Override:             cfg.NotifyAlways,
	}

	for {
		select {
		case messages, ok := <-conversation.Updates():
			if !ok {
				return
			}
			printConversation(messages)
		case candidate, ok := <-conversation.Candidates():
			if !ok {
				return
			}
			senderName := candidate.SenderID
			lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if user, err := client.User(lookupCtx, candidate.SenderID); err == nil && user.DisplayName != "" {
				senderName = user.DisplayName
			}
			cancel()
			dispatcher.Deliver(candidate, senderName, notifyCtx)
		case <-ctx.Done():
			return
		}
	}
}

func printConversation(messages []models.Message) {
	for _, message := range messages {
		marker := " "
		if message.IsQueued {
			marker = "~"
		}
		body := message.Content
		if message.Kind == models.KindImage {
			body = notify.ImagePlaceholder
		}
		fmt.Printf("%s [%s] %s: %s\n", marker,
			time.UnixMilli(message.CreatedAt).Format("15:04:05"), message.SenderID, body)
	}
	fmt.Println("---")
}

// terminalNotifier is the headless platform surface: notifications print
// to stdout.
type terminalNotifier struct{}

func (terminalNotifier) Notify(n notify.Notification) error {
	_, err := fmt.Printf("🔔 %s: %s (conversation %s)\n", n.Title, n.Body, n.ConversationID)
	return err
}
