package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "gochat"
	// DefaultBackendURL is the websocket endpoint of the remote document store.
	DefaultBackendURL = "wss://chat.example.com/ws"
	// DefaultAppID namespaces this application's collections in the backend.
	DefaultAppID = "gochat"
	// DefaultSendTimeoutSeconds bounds one live send attempt before it
	// falls back to the queue.
	DefaultSendTimeoutSeconds = 5
	// DefaultHeartbeatSeconds is the presence heartbeat interval.
	DefaultHeartbeatSeconds = 30
	// DefaultPresenceStalenessSeconds bounds how old a heartbeat may be for
	// a peer to still display as online.
	DefaultPresenceStalenessSeconds = 70
	// DefaultNotificationPreviewRunes caps notification body length.
	DefaultNotificationPreviewRunes = 200
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID                 string `json:"device_id"`
	DeviceName               string `json:"device_name"`
	UserID                   string `json:"user_id"`
	BackendURL               string `json:"backend_url"`
	AppID                    string `json:"app_id"`
	SendTimeoutSeconds       int    `json:"send_timeout_seconds"`
	HeartbeatSeconds         int    `json:"heartbeat_seconds"`
	PresenceStalenessSeconds int    `json:"presence_staleness_seconds"`
	NotificationsEnabled     bool   `json:"notifications_enabled"`
	// NotifyAlways overrides focus/active-conversation suppression. Debug aid.
	NotifyAlways             bool   `json:"notify_always"`
	NotificationPreviewRunes int    `json:"notification_preview_runes"`
	DeviceToken              string `json:"device_token,omitempty"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If GOCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("GOCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *DeviceConfig {
	deviceName := "GoChat Device"
	if host, err := os.Hostname(); err == nil && host != "" {
		deviceName = host
	}

	return &DeviceConfig{
		DeviceID:                 uuid.NewString(),
		DeviceName:               deviceName,
		BackendURL:               DefaultBackendURL,
		AppID:                    DefaultAppID,
		SendTimeoutSeconds:       DefaultSendTimeoutSeconds,
		HeartbeatSeconds:         DefaultHeartbeatSeconds,
		PresenceStalenessSeconds: DefaultPresenceStalenessSeconds,
		NotificationsEnabled:     true,
		NotificationPreviewRunes: DefaultNotificationPreviewRunes,
	}
}

func normalizeDefaults(cfg *DeviceConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		deviceName := "GoChat Device"
		if host, err := os.Hostname(); err == nil && host != "" {
			deviceName = host
		}
		cfg.DeviceName = deviceName
		updated = true
	}

	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
		updated = true
	}

	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
		updated = true
	}

	if cfg.SendTimeoutSeconds <= 0 {
		cfg.SendTimeoutSeconds = DefaultSendTimeoutSeconds
		updated = true
	}

	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = DefaultHeartbeatSeconds
		updated = true
	}

	if cfg.PresenceStalenessSeconds <= 0 {
		cfg.PresenceStalenessSeconds = DefaultPresenceStalenessSeconds
		updated = true
	}

	if cfg.NotificationPreviewRunes <= 0 {
		cfg.NotificationPreviewRunes = DefaultNotificationPreviewRunes
		updated = true
	}

	return updated
}
