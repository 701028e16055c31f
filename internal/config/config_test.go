package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WACHAT_MEMORY_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Memory.Window != 10 {
		t.Errorf("Memory.Window = %d, want 10", cfg.Memory.Window)
	}
	if cfg.Memory.ProfileTTLMinutes != 15 {
		t.Errorf("Memory.ProfileTTLMinutes = %d, want 15", cfg.Memory.ProfileTTLMinutes)
	}
	if cfg.Memory.BehaviorTTLMinutes != 30 {
		t.Errorf("Memory.BehaviorTTLMinutes = %d, want 30", cfg.Memory.BehaviorTTLMinutes)
	}
	if cfg.Memory.Backend != "memory" {
		t.Errorf("Memory.Backend = %q, want %q", cfg.Memory.Backend, "memory")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty, want a default")
	}
	if cfg.CRM.TimeoutSeconds != 10 {
		t.Errorf("CRM.TimeoutSeconds = %d, want 10", cfg.CRM.TimeoutSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WACHAT_SERVER_PORT", "9090")
	t.Setenv("WACHAT_MEMORY_WINDOW", "25")
	t.Setenv("WACHAT_RELAY_TARGET_URL", "https://hooks.example.com/wa")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Memory.Window != 25 {
		t.Errorf("Memory.Window = %d, want 25", cfg.Memory.Window)
	}
	if cfg.Relay.TargetURL != "https://hooks.example.com/wa" {
		t.Errorf("Relay.TargetURL = %q", cfg.Relay.TargetURL)
	}
}

func TestLoadRedisBackendRequiresURL(t *testing.T) {
	t.Setenv("WACHAT_MEMORY_BACKEND", "redis")
	t.Setenv("WACHAT_REDIS_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded, want error for redis backend without URL")
	}
	if !strings.Contains(err.Error(), "WACHAT_REDIS_URL") {
		t.Errorf("error %q does not mention WACHAT_REDIS_URL", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("WACHAT_MEMORY_BACKEND", "dynamo")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded, want error for unknown memory backend")
	}
}

func TestShowAllRedactsSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Server.Port = 4000
	cfg.LLM.APIKey = "sk-secret"
	cfg.Relay.TargetURL = "https://hooks.example.com/wa"

	kvs := ShowAll(cfg)

	byKey := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		byKey[kv.Key] = kv.Value
	}

	if byKey["server.port"] != "4000" {
		t.Errorf("server.port = %q", byKey["server.port"])
	}
	if byKey["llm.api_key"] == "sk-secret" || byKey["llm.api_key"] == "" {
		t.Errorf("llm.api_key = %q, want redacted", byKey["llm.api_key"])
	}
	if byKey["relay.target_url"] != "https://hooks.example.com/wa" {
		t.Errorf("relay.target_url = %q, want shown in clear", byKey["relay.target_url"])
	}
}
