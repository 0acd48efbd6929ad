package wiring

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reynold-degenracy/EverMindAgent/internal/config"
	"github.com/Reynold-degenracy/EverMindAgent/internal/scheduler"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store/memstore"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

func TestBuildStoreDefaultsToMemory(t *testing.T) {
	doc, err := BuildStore(context.Background(), config.Default())
	require.NoError(t, err)
	_, ok := doc.(*memstore.Store)
	assert.True(t, ok)
}

func TestBuildToolsIncludesEmaReplyByDefault(t *testing.T) {
	tools := BuildTools(config.Default())
	require.Len(t, tools, 1)
	assert.Equal(t, tool.NameEmaReply, tools[0].Name)
}

func TestBuildToolsExcludesEmaReplyWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Tools = map[string]bool{tool.NameEmaReply: false}
	assert.Empty(t, BuildTools(cfg))
}

func TestLoadSystemPromptTemplateDefaultsWhenUnset(t *testing.T) {
	tmpl := LoadSystemPromptTemplate(config.Default(), nil)
	assert.Contains(t, tmpl, "{MEMORY_BUFFER}")
}

func TestLoadSystemPromptTemplateReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello {USER_NAME}"), 0o600))

	cfg := config.Default()
	cfg.Agent.SystemPromptFile = path
	tmpl := LoadSystemPromptTemplate(cfg, nil)
	assert.Equal(t, "hello {USER_NAME}", tmpl)
}

func TestLoadSystemPromptTemplateFallsBackOnReadError(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.SystemPromptFile = filepath.Join(t.TempDir(), "missing.txt")

	var gotErr error
	tmpl := LoadSystemPromptTemplate(cfg, func(err error) { gotErr = err })
	assert.Error(t, gotErr)
	assert.Contains(t, tmpl, "{MEMORY_BUFFER}")
}

func TestRenderSystemPromptSubstitutesUserName(t *testing.T) {
	got := RenderSystemPrompt("hi {USER_NAME}!", "Ada")
	assert.Equal(t, "hi Ada!", got)
}

func TestBuildSchedulerLockDefaultsToMemory(t *testing.T) {
	lock, err := BuildSchedulerLock(context.Background(), config.Default())
	require.NoError(t, err)
	_, ok := lock.(*scheduler.MemoryLock)
	assert.True(t, ok)
}
