package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// WebhookURL is the notification endpoint (e.g. a Telegram bot
	// sendMessage URL). Required for real dispatch.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`

	// ChatID is the target channel identifier sent with every
	// notification payload.
	ChatID string `yaml:"chat_id" json:"chat_id"`

	// Calendar is the ICS source: a local file path or an http(s) URL.
	Calendar string `yaml:"calendar" json:"calendar"`

	// LedgerPath is the append-only file recording already-notified
	// occurrence identities.
	LedgerPath string `yaml:"ledger_path" json:"ledger_path"`

	// CacheDir holds the HTTP cache for URL calendar sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Cron is an optional cron-style schedule (e.g. "*/5 * * * *").
	// If empty, the process runs one evaluation pass and exits.
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty"`

	// Listen is the HTTP listen address for the status endpoint in
	// cron mode. Empty disables the status server.
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Calendar:   "events.ics",
		LedgerPath: "processed_events.txt",
		CacheDir:   "./var/ics-cache",
		LogLevel:   "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Calendar == "" {
		c.Calendar = "events.ics"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = "processed_events.txt"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	switch c.LogLevel {
	case "debug", "info", "error":
		// ok
	default:
		c.LogLevel = "info"
	}
}

// Validate reports whether the config is complete enough for real
// dispatch. Called from main, not from Load, so that a freshly created
// default file can be edited before first use.
func (c *Config) Validate() error {
	if c.WebhookURL == "" {
		return errors.New("webhook_url is not set")
	}
	if c.ChatID == "" {
		return errors.New("chat_id is not set")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600 (the webhook URL embeds
//     the bot token).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calnotify-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
