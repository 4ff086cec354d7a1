package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// ConfigPath is used when Load is called with an empty path.
const ConfigPath = "config.yaml"

const (
	defaultAddr             = ":3000"
	defaultPublicPath       = "/uploads"
	defaultMaxBodySize      = 64 * 1024 * 1024
	defaultDataDir          = "./data"
	defaultPageSize         = 30
	maxPageSize             = 200
	defaultSendBuffer       = 64
	defaultWriteTimeout     = 10 * time.Second
	defaultMaxFrameSize     = 16 * 1024 * 1024
	defaultFrameRPS         = 20
	defaultFrameBurst       = 40
	defaultOfflineTTL       = 7 * 24 * time.Hour
	defaultHousekeepingCron = "*/30 * * * *"
	defaultScratchRetention = 24 * time.Hour
)

// Load reads config from path, applies CHAT_* environment overrides and
// fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CHAT_PUBLIC_PATH"); v != "" {
		cfg.Server.PublicPath = v
	}
	if v := os.Getenv("CHAT_MAX_BODY_SIZE"); v != "" {
		s, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("CHAT_MAX_BODY_SIZE: %w", err)
		}
		cfg.Server.MaxBodySize = s
	}
	if v := os.Getenv("CHAT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHAT_UPLOADS_DIR"); v != "" {
		cfg.Storage.UploadsDir = v
	}
	if v := os.Getenv("CHAT_SCRATCH_DIR"); v != "" {
		cfg.Storage.ScratchDir = v
	}
	if v := os.Getenv("CHAT_HISTORY_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHAT_HISTORY_PAGE_SIZE: %w", err)
		}
		cfg.History.PageSize = n
	}
	if v := os.Getenv("CHAT_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.SendBuffer = n
		}
	}
	if v := os.Getenv("CHAT_WRITE_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHAT_WRITE_TIMEOUT: %w", err)
		}
		cfg.Client.WriteTimeout = d
	}
	if v := os.Getenv("CHAT_FRAME_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Client.FrameRPS = &f
		}
	}
	if v := os.Getenv("CHAT_FRAME_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.FrameBurst = n
		}
	}
	if v := os.Getenv("CHAT_PRESENCE_OFFLINE_TTL"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHAT_PRESENCE_OFFLINE_TTL: %w", err)
		}
		cfg.Presence.OfflineTTL = d
	}
	if v := os.Getenv("CHAT_HOUSEKEEPING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Housekeeping.Enabled = &b
		}
	}
	if v := os.Getenv("CHAT_HOUSEKEEPING_CRON"); v != "" {
		cfg.Housekeeping.Cron = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHAT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// Validate fills in missing defaults and rejects invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.PublicPath == "" {
		c.Server.PublicPath = defaultPublicPath
	}
	if !strings.HasPrefix(c.Server.PublicPath, "/") {
		c.Server.PublicPath = "/" + c.Server.PublicPath
	}
	c.Server.PublicPath = strings.TrimSuffix(c.Server.PublicPath, "/")
	if c.Server.PublicPath == "" {
		return errors.New("server.public_path must not be the root")
	}
	if c.Server.MaxBodySize <= 0 {
		c.Server.MaxBodySize = defaultMaxBodySize
	}

	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(defaultDataDir, "messages")
	}
	if c.Storage.UploadsDir == "" {
		c.Storage.UploadsDir = filepath.Join(defaultDataDir, "uploads")
	}
	if c.Storage.ScratchDir == "" {
		c.Storage.ScratchDir = filepath.Join(defaultDataDir, "chunks")
	}
	if filepath.Clean(c.Storage.UploadsDir) == filepath.Clean(c.Storage.ScratchDir) {
		return errors.New("storage.uploads_dir and storage.scratch_dir must differ")
	}

	if c.History.PageSize == 0 {
		c.History.PageSize = defaultPageSize
	}
	if c.History.PageSize < 1 || c.History.PageSize > maxPageSize {
		return fmt.Errorf("history.page_size must be between 1 and %d", maxPageSize)
	}

	if c.Client.SendBuffer <= 0 {
		c.Client.SendBuffer = defaultSendBuffer
	}
	if c.Client.WriteTimeout <= 0 {
		c.Client.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Client.MaxFrameSize <= 0 {
		c.Client.MaxFrameSize = defaultMaxFrameSize
	}
	if c.Client.FrameRPS == nil {
		rps := float64(defaultFrameRPS)
		c.Client.FrameRPS = &rps
	}
	if *c.Client.FrameRPS < 0 {
		return errors.New("client.frame_rps must not be negative")
	}
	if c.Client.FrameBurst <= 0 {
		c.Client.FrameBurst = defaultFrameBurst
	}

	if c.Presence.OfflineTTL <= 0 {
		c.Presence.OfflineTTL = Duration(defaultOfflineTTL)
	}

	if c.Housekeeping.Cron == "" {
		c.Housekeeping.Cron = defaultHousekeepingCron
	}
	if !gronx.IsValid(c.Housekeeping.Cron) {
		return fmt.Errorf("invalid housekeeping.cron expression: %q", c.Housekeeping.Cron)
	}
	if c.Housekeeping.ScratchRetention <= 0 {
		c.Housekeeping.ScratchRetention = Duration(defaultScratchRetention)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}
