package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StorageDriver != "file" || cfg.QueueDriver != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 100<<20 {
		t.Fatalf("maxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.TranscriptionMaxBytes != 25<<20 {
		t.Fatalf("transcriptionMaxBytes = %d", cfg.TranscriptionMaxBytes)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("port: \"9090\"\nstorageDriver: postgres\nqueueDriver: redis\nredisAddr: yaml-redis:6379\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("QUEUE_CONCURRENCY", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.StorageDriver != "postgres" || cfg.QueueDriver != "redis" {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	// Environment wins over the file.
	if cfg.RedisAddr != "env-redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.QueueConcurrency != 7 {
		t.Fatalf("queueConcurrency = %d", cfg.QueueConcurrency)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
