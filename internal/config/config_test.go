package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "/uploads", cfg.Server.PublicPath)
	assert.Equal(t, 30, cfg.History.PageSize)
	assert.Equal(t, 20.0, cfg.Client.RPS())
	assert.Equal(t, 10*time.Second, cfg.Client.WriteTimeout.Duration())
	assert.Equal(t, 24*time.Hour, cfg.Housekeeping.ScratchRetention.Duration())
	assert.Equal(t, "*/30 * * * *", cfg.Housekeeping.Cron)
	assert.True(t, cfg.Housekeeping.IsEnabled())
}

func TestLoadYAML(t *testing.T) {
	p := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  public_path: "files/"
  max_body_size: "8MB"
storage:
  db_path: "/var/lib/chat/db"
  uploads_dir: "/var/lib/chat/uploads"
  scratch_dir: "/var/lib/chat/chunks"
history:
  page_size: 50
client:
  write_timeout: 2.5
  max_frame_size: "1MiB"
  frame_rps: 0
presence:
  offline_ttl: "48h"
housekeeping:
  enabled: false
  cron: "0 * * * *"
logging:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/files", cfg.Server.PublicPath)
	assert.Equal(t, int64(8_000_000), cfg.Server.MaxBodySize.Int64())
	assert.Equal(t, int64(1<<20), cfg.Client.MaxFrameSize.Int64())
	assert.Equal(t, 2500*time.Millisecond, cfg.Client.WriteTimeout.Duration())
	assert.Equal(t, 0.0, cfg.Client.RPS())
	assert.Equal(t, 50, cfg.History.PageSize)
	assert.Equal(t, 48*time.Hour, cfg.Presence.OfflineTTL.Duration())
	assert.False(t, cfg.Housekeeping.IsEnabled())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_ADDR", ":4000")
	t.Setenv("CHAT_HISTORY_PAGE_SIZE", "40")
	t.Setenv("CHAT_FRAME_RPS", "5")
	t.Setenv("CHAT_WRITE_TIMEOUT", "3s")
	t.Setenv("CHAT_LOG_LEVEL", "warn")

	p := writeConfig(t, "server:\n  addr: \":3500\"\nhistory:\n  page_size: 35\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, 40, cfg.History.PageSize)
	assert.Equal(t, 5.0, cfg.Client.RPS())
	assert.Equal(t, 3*time.Second, cfg.Client.WriteTimeout.Duration())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad cron", "housekeeping:\n  cron: \"every tuesday\"\n"},
		{"page size too large", "history:\n  page_size: 5000\n"},
		{"same upload and scratch dirs", "storage:\n  uploads_dir: /tmp/x\n  scratch_dir: /tmp/x/\n"},
		{"negative rps", "client:\n  frame_rps: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestParseSizeAndDuration(t *testing.T) {
	s, err := ParseSize("2KB")
	require.NoError(t, err)
	assert.Equal(t, SizeBytes(2000), s)

	s, err = ParseSize("4096")
	require.NoError(t, err)
	assert.Equal(t, SizeBytes(4096), s)

	_, err = ParseSize("lots")
	assert.Error(t, err)

	d, err := ParseDuration("90")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d.Duration())

	_, err = ParseDuration("soon")
	assert.Error(t, err)
}
