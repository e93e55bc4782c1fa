// Package model defines the data structures for kbreplay's configuration,
// playback sessions, and identifiers.
package model

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
	Output   OutputConfig   `yaml:"output"`
	Playback PlaybackConfig `yaml:"playback"`
	Journal  JournalConfig  `yaml:"journal"`
	Limits   LimitsConfig   `yaml:"limits"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	AdminAddr          string `yaml:"admin_addr"` // empty disables the metrics endpoint
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type OutputConfig struct {
	Device string `yaml:"device"` // HID gadget device node
}

// PlaybackConfig holds daemon-wide playback defaults. Per-request options
// (speed, jitter, loop count, ignore keys) arrive with each play request.
type PlaybackConfig struct {
	// ResamplePerLoop re-draws ignore filtering and jitter for every loop
	// iteration. When false, one sampled pass is replayed identically.
	ResamplePerLoop *bool `yaml:"resample_per_loop"`
	MaxLoopCount    int   `yaml:"max_loop_count"`
}

type JournalConfig struct {
	Path         string `yaml:"path"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

type LimitsConfig struct {
	MaxRecordingBytes int `yaml:"max_recording_bytes"`
}

// DefaultConfig returns the configuration written by `kbreplay setup`.
func DefaultConfig() Config {
	resample := true
	return Config{
		Daemon:   DaemonConfig{ShutdownTimeoutSec: 30},
		Logging:  LoggingConfig{Level: "info"},
		Output:   OutputConfig{Device: "/dev/hidg0"},
		Playback: PlaybackConfig{ResamplePerLoop: &resample, MaxLoopCount: 1000},
		Journal:  JournalConfig{MaxSizeBytes: 50 * 1024 * 1024},
		Limits:   LimitsConfig{MaxRecordingBytes: 10 * 1024 * 1024},
	}
}

// ResamplePerLoop resolves the pointer field with its default of true.
func (c PlaybackConfig) Resample() bool {
	if c.ResamplePerLoop == nil {
		return true
	}
	return *c.ResamplePerLoop
}

// LoadConfig reads config.yaml and applies environment overrides. A .env file
// in the working directory is loaded first if present; missing .env is not an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("KBREPLAY_LOG_LEVEL", c.Logging.Level)
	c.Output.Device = getEnv("KBREPLAY_DEVICE", c.Output.Device)
	c.Daemon.AdminAddr = getEnv("KBREPLAY_ADMIN_ADDR", c.Daemon.AdminAddr)
	c.Daemon.ShutdownTimeoutSec = getEnvInt("KBREPLAY_SHUTDOWN_TIMEOUT_SEC", c.Daemon.ShutdownTimeoutSec)
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
