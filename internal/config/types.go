package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	History      HistoryConfig      `yaml:"history"`
	Client       ClientConfig       `yaml:"client"`
	Presence     PresenceConfig     `yaml:"presence"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr        string    `yaml:"addr"`
	PublicPath  string    `yaml:"public_path"`
	MaxBodySize SizeBytes `yaml:"max_body_size"`
}

type StorageConfig struct {
	DBPath     string `yaml:"db_path"`
	UploadsDir string `yaml:"uploads_dir"`
	ScratchDir string `yaml:"scratch_dir"`
}

type HistoryConfig struct {
	PageSize int `yaml:"page_size"`
}

// ClientConfig tunes each duplex connection.
type ClientConfig struct {
	SendBuffer   int       `yaml:"send_buffer"`
	WriteTimeout Duration  `yaml:"write_timeout"`
	MaxFrameSize SizeBytes `yaml:"max_frame_size"`
	FrameRPS     *float64  `yaml:"frame_rps"`
	FrameBurst   int       `yaml:"frame_burst"`
}

// RPS is the per-connection frame rate; zero disables limiting.
func (c ClientConfig) RPS() float64 {
	if c.FrameRPS == nil {
		return 0
	}
	return *c.FrameRPS
}

type PresenceConfig struct {
	OfflineTTL Duration `yaml:"offline_ttl"`
}

// HousekeepingConfig schedules the scratch reaper and presence eviction.
type HousekeepingConfig struct {
	Enabled          *bool    `yaml:"enabled"`
	Cron             string   `yaml:"cron"`
	ScratchRetention Duration `yaml:"scratch_retention"`
}

func (h HousekeepingConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// ParseSize accepts "16MB", "512KiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
