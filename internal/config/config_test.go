package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.ChatProvider)
	assert.Equal(t, "memory", cfg.Mongo.Kind)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 10, cfg.Agent.MemoryBufferSize)
}

func TestLoadYAMLFileOverridesMemoryBufferSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  memoryBufferSize: 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Agent.MemoryBufferSize)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.ChatProvider)
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  chatProvider: google
  chatModel: gemini-2.0-flash
agent:
  maxSteps: 25
mongo:
  kind: remote
  uri: mongodb://localhost:27017
  dbName: evermind
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.LLM.ChatProvider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ChatModel)
	assert.Equal(t, 25, cfg.Agent.MaxSteps)
	assert.Equal(t, "remote", cfg.Mongo.Kind)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  chatProvider: openai
  chatModel: gpt-4o
`), 0o600))

	t.Setenv("EMA_CHAT_PROVIDER", "google")
	t.Setenv("EMA_CHAT_MODEL", "gemini-2.0-flash")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.LLM.ChatProvider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ChatModel)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].Key)
	assert.Equal(t, "gm-test", cfg.LLM.Providers["google"].Key)
}

func TestHTTPSProxyPrefersUpperCase(t *testing.T) {
	t.Setenv("https_proxy", "http://lower.example")
	t.Setenv("HTTPS_PROXY", "http://upper.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://upper.example", cfg.System.HTTPSProxy)
}

func TestHTTPSProxyFallsBackToLowerCase(t *testing.T) {
	t.Setenv("https_proxy", "http://lower.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://lower.example", cfg.System.HTTPSProxy)
}
