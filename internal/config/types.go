package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Bot      BotConfig      `json:"bot"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// Channel is the publish target: "@name" for public channels or a
	// numeric chat id for private ones.
	Channel string `json:"channel"`

	// OwnerID is the single administrative user. Blacklist commands and
	// submission notifications go here.
	OwnerID int64 `json:"owner_id"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// BotConfig controls the submission flow.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - mode: "mixed"
//   - session_ttl: "15m"
//   - sweep_interval: "5m"
//   - max_tags: 10
//   - net_timeout: "2m"
//   - send_rate_per_sec: 1
type BotConfig struct {
	Mode string `json:"mode,omitempty"`

	// SessionTTL evicts drafts whose last activity is older than this.
	SessionTTL string `json:"session_ttl,omitempty"`

	// SweepInterval is how often the background TTL sweep runs.
	SweepInterval string `json:"sweep_interval,omitempty"`

	MaxTags int `json:"max_tags,omitempty"`

	// NetTimeout bounds each outbound platform call.
	NetTimeout string `json:"net_timeout,omitempty"`

	// NotifyOwner sends the owner a note for every published submission.
	NotifyOwner bool `json:"notify_owner"`

	// ShowSubmitter appends submitter attribution to the caption.
	ShowSubmitter bool `json:"show_submitter"`

	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks the startup-critical fields.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		return errors.New("telegram.channel is required")
	}
	if c.Telegram.OwnerID == 0 {
		return errors.New("telegram.owner_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Bot.Mode)) {
	case "", "media", "document", "mixed":
	default:
		return fmt.Errorf("bot.mode: unknown mode %q", c.Bot.Mode)
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"bot.session_ttl", c.Bot.SessionTTL},
		{"bot.sweep_interval", c.Bot.SweepInterval},
		{"bot.net_timeout", c.Bot.NetTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
