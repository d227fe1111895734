//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Run("should apply queue and worker defaults", func(t *testing.T) {
		// --- Arrange ---
		raw := []byte(`
database:
  url: postgres://u:p@localhost:5432/db
redis:
  url: localhost:6379
auth:
  jwt_secret: s3cret
`)
		// --- Act ---
		cfg, err := Parse(raw, false)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Queue.Backend != "redis" {
			t.Errorf("expected redis backend, got %q", cfg.Queue.Backend)
		}
		if cfg.Queue.MaxAttempts != 3 || cfg.Queue.BackoffBase != 3*time.Second {
			t.Errorf("unexpected retry defaults: %d / %s", cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase)
		}
		if cfg.Queue.KeepCompleted != 100 || cfg.Queue.KeepFailed != 500 {
			t.Errorf("unexpected history defaults: %d / %d", cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed)
		}
		if cfg.Generation.Provider != "placeholder" {
			t.Errorf("expected placeholder provider when nothing is configured, got %q", cfg.Generation.Provider)
		}
		if cfg.Worker.Lease <= cfg.Worker.JobTimeout {
			t.Errorf("lease %s must exceed job timeout %s", cfg.Worker.Lease, cfg.Worker.JobTimeout)
		}
	})

	t.Run("should pick the memory backends in dev mode without urls", func(t *testing.T) {
		cfg, err := Parse([]byte(`log: {level: debug}`), true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Queue.Backend != "memory" {
			t.Errorf("expected memory queue backend, got %q", cfg.Queue.Backend)
		}
		if !cfg.Runtime.Dev {
			t.Error("expected dev runtime flag")
		}
	})

	t.Run("should require database url outside dev mode", func(t *testing.T) {
		_, err := Parse([]byte(`redis: {url: "localhost:6379"}`), false)
		if err == nil {
			t.Fatal("expected an error for missing database.url")
		}
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		_, err := Parse([]byte(`generation: {provider: midjourney}`), true)
		if err == nil {
			t.Fatal("expected a validation error for unknown provider")
		}
	})

	t.Run("should select minio when its section is complete", func(t *testing.T) {
		// --- Arrange ---
		raw := []byte(`
storage:
  backend: minio
  minio: {endpoint: "minio:9000", access_key: ak, secret_key: sk}
`)
		// --- Act ---
		cfg, err := Parse(raw, true)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !cfg.Storage.UseMinIO() {
			t.Fatal("expected the minio backend")
		}
		if cfg.Storage.MinIO.Bucket != "images" || cfg.Storage.MinIO.Region != "us-east-1" {
			t.Errorf("unexpected minio defaults %+v", cfg.Storage.MinIO)
		}
		if cfg.Storage.PublicURL != "" {
			t.Errorf("expected the public url derived from the endpoint, got %q", cfg.Storage.PublicURL)
		}
	})

	t.Run("should fall back to local storage when minio is incomplete", func(t *testing.T) {
		cfg, err := Parse([]byte("storage:\n  backend: minio\n  minio: {endpoint: \"minio:9000\"}\n"), true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Storage.UseMinIO() {
			t.Error("expected local storage without credentials")
		}
		if cfg.Storage.PublicURL == "" {
			t.Error("expected the local public url default")
		}
	})

	t.Run("should reject an unknown storage backend", func(t *testing.T) {
		if _, err := Parse([]byte(`storage: {backend: s3}`), true); err == nil {
			t.Fatal("expected a validation error for unknown storage backend")
		}
	})

	t.Run("should reject a lease shorter than the job timeout", func(t *testing.T) {
		_, err := Parse([]byte("worker:\n  job_timeout: 2m\n  lease: 1m\n"), true)
		if err == nil {
			t.Fatal("expected an error for lease <= job_timeout")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http: {port: 9090}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Storage.PublicURL != "http://localhost:9090/files" {
		t.Errorf("unexpected public url %q", cfg.Storage.PublicURL)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml"), true); err == nil {
		t.Error("expected an error for a missing file")
	}
}
