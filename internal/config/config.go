package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all autodj configuration.
type Config struct {
	Bind           string  `koanf:"bind"`
	Port           int     `koanf:"port"`
	DBPath         string  `koanf:"db_path"`   // empty resolves to ~/.autodj/autodj.db
	MusicDir       string  `koanf:"music_dir"` // AUTODJ_MUSIC_DIR overrides
	LogLevel       string  `koanf:"log_level"` // debug, info, warn, error
	TickIntervalMS int     `koanf:"tick_interval_ms"`
	TargetBPM      float64 `koanf:"target_bpm"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Bind:           "127.0.0.1",
		Port:           37780,
		DBPath:         "", // resolved at runtime via store.DefaultDBPath()
		MusicDir:       "", // resolved at runtime via DefaultMusicDir()
		LogLevel:       "info",
		TickIntervalMS: 500,
		TargetBPM:      140,
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// TickInterval is the deck clock and websocket push period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// ResolvedMusicDir returns MusicDir, or the default when unset.
func (c *Config) ResolvedMusicDir() (string, error) {
	if c.MusicDir != "" {
		return c.MusicDir, nil
	}
	return DefaultMusicDir()
}

// DefaultMusicDir returns ~/.autodj/music.
func DefaultMusicDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".autodj", "music"), nil
}

// Validate checks ranges that would otherwise fail deep inside the service.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.TickIntervalMS <= 0:
		return fmt.Errorf("%w: tick_interval_ms must be positive", ErrInvalidConfig)
	case c.TargetBPM < 60 || c.TargetBPM > 220:
		return fmt.Errorf("%w: target_bpm %.1f outside 60-220", ErrInvalidConfig, c.TargetBPM)
	}
	return nil
}
