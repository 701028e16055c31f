package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration, populated from environment
// variables with the WACHAT_ prefix. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	LLM       LLMConfig
	CRM       CRMConfig
	Knowledge KnowledgeConfig
	Relay     RelayConfig
	Send      SendConfig
	Memory    MemoryConfig
	Redis     RedisConfig
	Rules     RulesConfig
}

type ServerConfig struct {
	Port        int    `default:"4000"`
	BindAddress string `split_words:"true" default:"127.0.0.1"`
	APIToken    string `split_words:"true"`
	MCPEnabled  bool   `split_words:"true" default:"true"`
}

type LogConfig struct {
	Level       string `default:"info"`
	Development bool   `default:"false"`
}

type StorageConfig struct {
	DataDir string `split_words:"true"`
}

type LLMConfig struct {
	BaseURL        string `split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey         string `split_words:"true"`
	EmbedModel     string `split_words:"true" default:"openai/text-embedding-3-small"`
	OverrideTag    string `split_words:"true"`
	TimeoutSeconds int    `split_words:"true" default:"10"`
}

type CRMConfig struct {
	BaseURL        string `split_words:"true" default:"https://services.leadconnectorhq.com"`
	APIKey         string `split_words:"true"`
	LocationID     string `split_words:"true"`
	TimeoutSeconds int    `split_words:"true" default:"10"`
}

type KnowledgeConfig struct {
	TopK          int     `split_words:"true" default:"3"`
	MinSimilarity float64 `split_words:"true" default:"0.7"`
	ChunkSize     int     `split_words:"true" default:"1200"`
}

type RelayConfig struct {
	TargetURL string `split_words:"true"`
	Secret    string
	APIKey    string `split_words:"true"`
}

// SendConfig points at the messaging gateway endpoint that delivers replies
// back to WhatsApp. When URL is empty, replies are persisted but not sent.
type SendConfig struct {
	URL            string
	APIKey         string `split_words:"true"`
	TimeoutSeconds int    `split_words:"true" default:"10"`
}

type MemoryConfig struct {
	Window             int    `default:"10"`
	ProfileTTLMinutes  int    `envconfig:"PROFILE_TTL_MINUTES" default:"15"`
	BehaviorTTLMinutes int    `envconfig:"BEHAVIOR_TTL_MINUTES" default:"30"`
	BehaviorCacheSize  int    `split_words:"true" default:"500"`
	Backend            string `default:"memory"`
}

type RedisConfig struct {
	URL string
}

type RulesConfig struct {
	File string
}

// Load reads a .env file (if any) and then the WACHAT_* environment.
// Validation is limited to what the process cannot run without; collaborator
// credentials may be absent and the affected component degrades at runtime.
func Load() (Config, error) {
	// Ignore a missing .env; it is a development convenience only.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("wachat", &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir()
	}

	if cfg.Memory.Window <= 0 {
		return Config{}, fmt.Errorf("invalid config: WACHAT_MEMORY_WINDOW must be positive, got %d", cfg.Memory.Window)
	}
	if cfg.Memory.Backend != "memory" && cfg.Memory.Backend != "redis" {
		return Config{}, fmt.Errorf("invalid config: WACHAT_MEMORY_BACKEND must be \"memory\" or \"redis\", got %q", cfg.Memory.Backend)
	}
	if cfg.Memory.Backend == "redis" && cfg.Redis.URL == "" {
		return Config{}, fmt.Errorf("missing required config: WACHAT_REDIS_URL is required when the memory backend is redis")
	}

	return cfg, nil
}

// KV is one configuration entry for display.
type KV struct {
	Key   string
	Value string
}

// ShowAll flattens the config for the CLI. Secrets are redacted, not shown.
func ShowAll(cfg Config) []KV {
	return []KV{
		{"server.port", strconv.Itoa(cfg.Server.Port)},
		{"server.bind_address", cfg.Server.BindAddress},
		{"server.api_token", redact(cfg.Server.APIToken)},
		{"server.mcp_enabled", strconv.FormatBool(cfg.Server.MCPEnabled)},
		{"log.level", cfg.Log.Level},
		{"storage.data_dir", cfg.Storage.DataDir},
		{"llm.base_url", cfg.LLM.BaseURL},
		{"llm.api_key", redact(cfg.LLM.APIKey)},
		{"llm.embed_model", cfg.LLM.EmbedModel},
		{"llm.override_tag", cfg.LLM.OverrideTag},
		{"crm.base_url", cfg.CRM.BaseURL},
		{"crm.api_key", redact(cfg.CRM.APIKey)},
		{"crm.location_id", cfg.CRM.LocationID},
		{"knowledge.top_k", strconv.Itoa(cfg.Knowledge.TopK)},
		{"knowledge.min_similarity", strconv.FormatFloat(cfg.Knowledge.MinSimilarity, 'g', -1, 64)},
		{"knowledge.chunk_size", strconv.Itoa(cfg.Knowledge.ChunkSize)},
		{"relay.target_url", cfg.Relay.TargetURL},
		{"relay.secret", redact(cfg.Relay.Secret)},
		{"relay.api_key", redact(cfg.Relay.APIKey)},
		{"send.url", cfg.Send.URL},
		{"send.api_key", redact(cfg.Send.APIKey)},
		{"memory.window", strconv.Itoa(cfg.Memory.Window)},
		{"memory.profile_ttl_minutes", strconv.Itoa(cfg.Memory.ProfileTTLMinutes)},
		{"memory.behavior_ttl_minutes", strconv.Itoa(cfg.Memory.BehaviorTTLMinutes)},
		{"memory.backend", cfg.Memory.Backend},
		{"redis.url", redact(cfg.Redis.URL)},
		{"rules.file", cfg.Rules.File},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".wachat")
	}
	return ".wachat"
}
