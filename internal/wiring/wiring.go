// Package wiring builds the shared runtime components (document store,
// LLM client, system prompt template, tool set) from a loaded
// config.Config, so that both cmd/emaserver and cmd/emactl compose the
// same core against the same configuration record instead of each
// re-deriving it. Grounded on the composition-root shape of the teacher's
// example/cmd/assistant/main.go, split into a reusable package because
// this module has two entry points rather than the teacher's one.
package wiring

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/Reynold-degenracy/EverMindAgent/internal/config"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm/google"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm/middleware"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm/openai"
	"github.com/Reynold-degenracy/EverMindAgent/internal/retry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/scheduler"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store/memstore"
	mongostore "github.com/Reynold-degenracy/EverMindAgent/internal/store/mongo"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// DefaultSystemPromptTemplate is used when agent.systemPromptFile is unset
// or unreadable.
const DefaultSystemPromptTemplate = "You are EverMind, a personal companion agent for {USER_NAME}.\n\nRecent conversation:\n{MEMORY_BUFFER}"

// BuildStore constructs the document store named by cfg.Mongo.Kind.
func BuildStore(ctx context.Context, cfg config.Config) (store.Document, error) {
	switch cfg.Mongo.Kind {
	case "remote":
		client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return mongostore.New(mongostore.Options{Client: client, Database: cfg.Mongo.DBName})
	default:
		return memstore.New(), nil
	}
}

// BuildLLMClient constructs the provider named by cfg.LLM.ChatProvider,
// wrapped with the retry middleware when cfg.LLM.Retry.Enabled and always
// with the rate-limit middleware (60 requests per minute).
func BuildLLMClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	provider := cfg.LLM.Providers[cfg.LLM.ChatProvider]

	var client llm.Client
	switch cfg.LLM.ChatProvider {
	case "google":
		c, err := google.New(ctx, google.Options{APIKey: provider.Key, BaseURL: provider.BaseURL, Model: cfg.LLM.ChatModel})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		c, err := openai.New(openai.Options{APIKey: provider.Key, BaseURL: provider.BaseURL, Model: cfg.LLM.ChatModel})
		if err != nil {
			return nil, err
		}
		client = c
	}

	if cfg.LLM.Retry.Enabled {
		policy := retry.Policy{
			Enabled:         true,
			MaxRetries:      cfg.LLM.Retry.MaxRetries,
			InitialDelay:    cfg.LLM.Retry.InitialDelay(),
			MaxDelay:        cfg.LLM.Retry.MaxDelay(),
			ExponentialBase: cfg.LLM.Retry.ExponentialBase,
			Jitter:          0.1,
		}
		client = middleware.WithRetry(client, policy, nil)
	}
	return middleware.WithRateLimit(client, middleware.NewRateLimiter(60)), nil
}

// LoadSystemPromptTemplate reads cfg.Agent.SystemPromptFile, falling back
// to DefaultSystemPromptTemplate when unset or unreadable. onError, when
// non-nil, is called with the read error.
func LoadSystemPromptTemplate(cfg config.Config, onError func(error)) string {
	if cfg.Agent.SystemPromptFile == "" {
		return DefaultSystemPromptTemplate
	}
	data, err := os.ReadFile(cfg.Agent.SystemPromptFile)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return DefaultSystemPromptTemplate
	}
	return string(data)
}

// RenderSystemPrompt substitutes the {USER_NAME} token in template.
func RenderSystemPrompt(template, userName string) string {
	return strings.ReplaceAll(template, "{USER_NAME}", userName)
}

// BuildSchedulerLock constructs the Job Scheduler's per-job lock backend
// named by cfg.Scheduler.Lock.Kind: "redis" for cross-process locking via
// github.com/redis/go-redis/v9 (grounded on registry/cmd/registry/main.go's
// redis.NewClient + Ping health check), defaulting to the in-process
// scheduler.MemoryLock otherwise.
func BuildSchedulerLock(ctx context.Context, cfg config.Config) (scheduler.Lock, error) {
	if cfg.Scheduler.Lock.Kind != "redis" {
		return scheduler.NewMemoryLock(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Scheduler.Lock.RedisAddr,
		Password: cfg.Scheduler.Lock.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	owner, err := os.Hostname()
	if err != nil || owner == "" {
		owner = uuid.NewString()
	}
	return scheduler.NewRedisLock(client, owner), nil
}

// BuildTools assembles the built-in tool set gated by cfg.Tools (spec.md
// §6: "tools.*: booleans gating which built-in tools are enabled").
// ema_reply is the agent's only built-in tool today and is included
// unless explicitly disabled.
func BuildTools(cfg config.Config) []tool.Tool {
	var tools []tool.Tool
	if enabled, set := cfg.Tools[tool.NameEmaReply]; !set || enabled {
		tools = append(tools, tool.NewEmaReply())
	}
	return tools
}
