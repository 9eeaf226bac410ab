package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AETitle != "IMAGINGD" {
		t.Errorf("AETitle = %s, want IMAGINGD", cfg.AETitle)
	}
	if cfg.WorklistAddr != ":11112" {
		t.Errorf("WorklistAddr = %s", cfg.WorklistAddr)
	}
	if cfg.StorageAddr != ":11113" {
		t.Errorf("StorageAddr = %s", cfg.StorageAddr)
	}
	if cfg.MaxPDULength != 16384 {
		t.Errorf("MaxPDULength = %d", cfg.MaxPDULength)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.MaxStorageBytes != 100<<30 {
		t.Errorf("MaxStorageBytes = %d, want 100GiB", cfg.MaxStorageBytes)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AE_TITLE", "PACS_TEST")
	t.Setenv("IDLE_TIMEOUT", "90s")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AETitle != "PACS_TEST" {
		t.Errorf("AETitle = %s, want PACS_TEST", cfg.AETitle)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v, want 90s", cfg.IdleTimeout)
	}
	if cfg.IsDev() {
		t.Error("ENV=production should not report dev")
	}
}

func TestLoad_ThumbPathDefault(t *testing.T) {
	t.Setenv("STORAGE_PATH", "/var/lib/imagingd")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ThumbPath != filepath.Join("/var/lib/imagingd", "thumbnails") {
		t.Errorf("ThumbPath = %s", cfg.ThumbPath)
	}
}

func TestValidateServe(t *testing.T) {
	dir := t.TempDir()

	base := Config{
		DatabaseURL: "postgres://localhost/imagingd",
		StoragePath: dir,
		AETitle:     "IMAGINGD",
	}
	if err := base.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.StoragePath = "" },
			wantErr: "STORAGE_PATH",
		},
		{
			name:    "empty ae title",
			mutate:  func(c *Config) { c.AETitle = "" },
			wantErr: "AE_TITLE",
		},
		{
			name:    "ae title too long",
			mutate:  func(c *Config) { c.AETitle = "THIS_TITLE_IS_TOO_LONG" },
			wantErr: "AE_TITLE",
		},
		{
			name:    "storage path missing",
			mutate:  func(c *Config) { c.StoragePath = filepath.Join(dir, "absent") },
			wantErr: "STORAGE_PATH",
		},
		{
			name: "storage path is a file",
			mutate: func(c *Config) {
				f := filepath.Join(dir, "file")
				os.WriteFile(f, []byte("x"), 0o644)
				c.StoragePath = f
			},
			wantErr: "not a directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.ValidateServe()
			if err == nil {
				t.Fatal("ValidateServe() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
