package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  channel: "@subs"
  owner_id: 42
  poll_timeout: "15s"
bot:
  mode: "mixed"
  session_ttl: "10m"
  max_tags: 5
  notify_owner: true
  show_submitter: true
storage:
  path: "/var/lib/bot/bot.db"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.Channel != "@subs" || cfg.Telegram.OwnerID != 42 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Bot.Mode != "mixed" || cfg.Bot.MaxTags != 5 || !cfg.Bot.NotifyOwner {
		t.Fatalf("bot section = %+v", cfg.Bot)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	js := `{
  "telegram": {"token": "t", "channel": "-100", "owner_id": 1},
  "bot": {"notify_owner": false, "show_submitter": false},
  "storage": {"path": "x.db"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`
	m := NewManager(writeConfig(t, "config.json", js))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Channel != "-100" {
		t.Fatalf("channel = %q", cfg.Telegram.Channel)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validYAML, "max_tags: 5", "max_tags: 5\n  surprise: 1", 1)
	m := NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field rejection")
	}
}

func TestParseRejectsMissingRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mangle func(string) string
	}{
		{name: "no token", mangle: func(s string) string { return strings.Replace(s, `token: "123:abc"`, `token: ""`, 1) }},
		{name: "no channel", mangle: func(s string) string { return strings.Replace(s, `channel: "@subs"`, `channel: ""`, 1) }},
		{name: "no owner", mangle: func(s string) string { return strings.Replace(s, "owner_id: 42", "owner_id: 0", 1) }},
		{name: "no storage path", mangle: func(s string) string { return strings.Replace(s, `path: "/var/lib/bot/bot.db"`, `path: ""`, 1) }},
		{name: "bad mode", mangle: func(s string) string { return strings.Replace(s, `mode: "mixed"`, `mode: "carrier-pigeon"`, 1) }},
		{name: "bad duration", mangle: func(s string) string { return strings.Replace(s, `session_ttl: "10m"`, `session_ttl: "soon"`, 1) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.yaml", tt.mangle(validYAML)))
			if _, err := m.Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("f", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("f", "90s", 3*time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("f", "nope", 3*time.Second); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDurationField("f", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
}
