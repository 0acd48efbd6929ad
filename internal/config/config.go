// Package config loads the process configuration record (spec.md §6,
// EXTERNAL INTERFACES → Configuration): an optional YAML file overlaid
// with a fixed set of environment variable overrides. Flags-then-env
// wiring is grounded on the teacher's cmd/assistant/main.go, which reads
// its own settings as explicit flags rather than through a tag-driven
// config library; this package adds the YAML-file layer and the literal
// upper-wins-over-lower-case env override semantics spec.md requires,
// neither of which any example in the retrieval pack demonstrates, so
// both are implemented directly against the standard library
// (gopkg.in/yaml.v3 for the file, os.Getenv for overrides).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig mirrors spec.md §6's llm.retry record.
type RetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxRetries      int     `yaml:"maxRetries"`
	InitialDelayMs  int     `yaml:"initialDelayMs"`
	MaxDelayMs      int     `yaml:"maxDelayMs"`
	ExponentialBase float64 `yaml:"exponentialBase"`
}

// InitialDelay converts InitialDelayMs to a time.Duration.
func (r RetryConfig) InitialDelay() time.Duration { return time.Duration(r.InitialDelayMs) * time.Millisecond }

// MaxDelay converts MaxDelayMs to a time.Duration.
func (r RetryConfig) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMs) * time.Millisecond }

// ProviderConfig is the per-provider credential/endpoint block.
type ProviderConfig struct {
	Key        string `yaml:"key"`
	BaseURL    string `yaml:"baseUrl"`
	HTTPProxy  string `yaml:"httpProxy"`
	HTTPSProxy string `yaml:"httpsProxy"`
}

// LLMConfig is spec.md §6's llm.* record.
type LLMConfig struct {
	ChatProvider string                    `yaml:"chatProvider"`
	ChatModel    string                    `yaml:"chatModel"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Retry        RetryConfig               `yaml:"retry"`
}

// AgentConfig is spec.md §6's agent.* record.
type AgentConfig struct {
	MaxSteps         int    `yaml:"maxSteps"`
	TokenLimit       int    `yaml:"tokenLimit"`
	SystemPromptFile string `yaml:"systemPromptFile"`
	// MemoryBufferSize is the count of recent conversation messages
	// substituted into {MEMORY_BUFFER} (SPEC_FULL.md §4, Open Question
	// Decision: "a config field, agent.memoryBufferSize, defaulting to 10").
	MemoryBufferSize int `yaml:"memoryBufferSize"`
}

// MongoConfig is spec.md §6's mongo.* record.
type MongoConfig struct {
	Kind   string `yaml:"kind"` // "memory" or "remote"
	URI    string `yaml:"uri"`
	DBName string `yaml:"dbName"`
}

// SystemConfig is spec.md §6's system.* record.
type SystemConfig struct {
	DataRoot   string `yaml:"dataRoot"`
	HTTPProxy  string `yaml:"httpProxy"`
	HTTPSProxy string `yaml:"httpsProxy"`
}

// LockConfig selects the Job Scheduler's per-job lock backend (spec.md
// §4.5, "per-job locking"): "memory" (default, single-process only) or
// "redis" (cross-process, via github.com/redis/go-redis/v9).
type LockConfig struct {
	Kind          string `yaml:"kind"` // "memory" or "redis"
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
}

// SchedulerConfig is spec.md §6's scheduler.* record.
type SchedulerConfig struct {
	Lock LockConfig `yaml:"lock"`
}

// Config is the full record spec.md §6 describes.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     map[string]bool `yaml:"tools"`
	Mongo     MongoConfig     `yaml:"mongo"`
	System    SystemConfig    `yaml:"system"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Default returns a Config with the defaults spec.md implies: memory-backed
// storage, retry enabled with conservative bounds, ten reasoning steps and
// a ten-message memory buffer.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			ChatProvider: "openai",
			Providers:    map[string]ProviderConfig{},
			Retry: RetryConfig{
				Enabled:         true,
				MaxRetries:      3,
				InitialDelayMs:  500,
				MaxDelayMs:      10_000,
				ExponentialBase: 2,
			},
		},
		Agent:     AgentConfig{MaxSteps: 10, TokenLimit: 8000, MemoryBufferSize: 10},
		Tools:     map[string]bool{},
		Mongo:     MongoConfig{Kind: "memory", DBName: "emacore"},
		Scheduler: SchedulerConfig{Lock: LockConfig{Kind: "memory"}},
	}
}

// Load reads path (if non-empty and present) as YAML over Default(), then
// applies the environment overrides spec.md §6 names. An empty or missing
// path is not an error; Load proceeds with defaults and env overrides only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides implements spec.md §6's fixed override list: each set
// env var replaces the value already loaded into cfg, and for the proxy
// variables the upper-case name wins over the lower-case one.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMA_CHAT_PROVIDER"); v != "" {
		cfg.LLM.ChatProvider = v
	}
	if v := os.Getenv("EMA_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}

	overrideProvider := func(name, keyEnv, baseEnv string) {
		p := cfg.LLM.Providers[name]
		if v := os.Getenv(keyEnv); v != "" {
			p.Key = v
		}
		if v := os.Getenv(baseEnv); v != "" {
			p.BaseURL = v
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]ProviderConfig{}
		}
		cfg.LLM.Providers[name] = p
	}
	overrideProvider("openai", "OPENAI_API_KEY", "OPENAI_API_BASE")
	overrideProvider("google", "GEMINI_API_KEY", "GEMINI_API_BASE")

	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.System.HTTPSProxy = v
	} else if v := os.Getenv("https_proxy"); v != "" {
		cfg.System.HTTPSProxy = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.System.HTTPProxy = v
	} else if v := os.Getenv("http_proxy"); v != "" {
		cfg.System.HTTPProxy = v
	}
}
