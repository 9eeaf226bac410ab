// Package config loads process configuration from the environment and
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	AETitle         string        `mapstructure:"AE_TITLE"`
	WorklistAddr    string        `mapstructure:"WORKLIST_ADDR"`
	StorageAddr     string        `mapstructure:"STORAGE_ADDR"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	StoragePath     string        `mapstructure:"STORAGE_PATH"`
	ThumbPath       string        `mapstructure:"THUMB_PATH"`
	MaxPDULength    uint32        `mapstructure:"MAX_PDU_LENGTH"`
	IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
	MaxPayloadBytes int64         `mapstructure:"MAX_PAYLOAD_BYTES"`
	MaxStorageBytes int64         `mapstructure:"MAX_STORAGE_BYTES"`
	ThumbnailSize   int           `mapstructure:"THUMBNAIL_SIZE"`
	JobWorkers      int           `mapstructure:"JOB_WORKERS"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("AE_TITLE", "IMAGINGD")
	v.SetDefault("WORKLIST_ADDR", ":11112")
	v.SetDefault("STORAGE_ADDR", ":11113")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MAX_PDU_LENGTH", 16384)
	v.SetDefault("IDLE_TIMEOUT", "60s")
	v.SetDefault("MAX_PAYLOAD_BYTES", 512<<20)
	v.SetDefault("MAX_STORAGE_BYTES", 100<<30)
	v.SetDefault("THUMBNAIL_SIZE", 200)
	v.SetDefault("JOB_WORKERS", 2)
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("AE_TITLE")
	v.BindEnv("WORKLIST_ADDR")
	v.BindEnv("STORAGE_ADDR")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("STORAGE_PATH")
	v.BindEnv("THUMB_PATH")
	v.BindEnv("MAX_PDU_LENGTH")
	v.BindEnv("IDLE_TIMEOUT")
	v.BindEnv("MAX_PAYLOAD_BYTES")
	v.BindEnv("MAX_STORAGE_BYTES")
	v.BindEnv("THUMBNAIL_SIZE")
	v.BindEnv("JOB_WORKERS")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ThumbPath == "" && cfg.StoragePath != "" {
		cfg.ThumbPath = filepath.Join(cfg.StoragePath, "thumbnails")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ValidateServe checks the configuration needed to run the listeners.
// STORAGE_PATH must exist and be writable before we accept a single
// association.
func (c *Config) ValidateServe() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.AETitle == "" || len(c.AETitle) > 16 {
		return fmt.Errorf("AE_TITLE must be 1 to 16 characters, got %q", c.AETitle)
	}

	info, err := os.Stat(c.StoragePath)
	if err != nil {
		return fmt.Errorf("STORAGE_PATH %s: %w", c.StoragePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("STORAGE_PATH %s is not a directory", c.StoragePath)
	}

	probe, err := os.CreateTemp(c.StoragePath, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("STORAGE_PATH %s is not writable: %w", c.StoragePath, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
