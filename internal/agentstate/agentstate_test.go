package agentstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
)

func TestNewBuildsFreshState(t *testing.T) {
	batches := []contentmodel.Message{contentmodel.NewUserMessage("", "", contentmodel.NewText("hello"))}
	s := New("prompt", batches, nil, nil)
	assert.Equal(t, "prompt", s.SystemPrompt)
	assert.Len(t, s.Messages, 1)
}

func TestPrepareForResumeAppendsWhenNoPendingToolCalls(t *testing.T) {
	s := New("prompt", []contentmodel.Message{
		contentmodel.NewUserMessage("", "", contentmodel.NewText("hello")),
		contentmodel.NewModelMessage([]contentmodel.Content{contentmodel.NewText("hi")}, nil),
	}, nil, nil)

	s.PrepareForResume([]contentmodel.Message{contentmodel.NewUserMessage("", "", contentmodel.NewText("again"))})

	assert.Len(t, s.Messages, 3)
	assert.Equal(t, "again", s.Messages[2].Text())
}

func TestPrepareForResumeDropsTrailingPendingToolCall(t *testing.T) {
	s := New("prompt", []contentmodel.Message{
		contentmodel.NewUserMessage("", "", contentmodel.NewText("hello")),
		contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{{Name: "ema_reply", Args: json.RawMessage(`{}`)}}),
	}, nil, nil)

	s.PrepareForResume([]contentmodel.Message{contentmodel.NewUserMessage("", "", contentmodel.NewText("more"))})

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, contentmodel.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "more", s.Messages[1].Text())
}

func TestPrepareForResumeDropsPartiallyResolvedToolCallBatch(t *testing.T) {
	s := New("prompt", []contentmodel.Message{
		contentmodel.NewUserMessage("", "", contentmodel.NewText("hello")),
		contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{
			{Name: "tool_a", Args: json.RawMessage(`{}`)},
			{Name: "tool_b", Args: json.RawMessage(`{}`)},
		}),
		contentmodel.NewToolMessage("tool_a", "tool_a", contentmodel.ToolResult{Success: true}),
	}, nil, nil)

	s.PrepareForResume([]contentmodel.Message{contentmodel.NewUserMessage("", "", contentmodel.NewText("more"))})

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, contentmodel.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "hello", s.Messages[0].Text())
	assert.Equal(t, "more", s.Messages[1].Text())
}

func TestPrepareForResumeKeepsFullyResolvedToolCallBatch(t *testing.T) {
	s := New("prompt", []contentmodel.Message{
		contentmodel.NewUserMessage("", "", contentmodel.NewText("hello")),
		contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{
			{Name: "tool_a", Args: json.RawMessage(`{}`)},
		}),
		contentmodel.NewToolMessage("tool_a", "tool_a", contentmodel.ToolResult{Success: true}),
	}, nil, nil)

	s.PrepareForResume([]contentmodel.Message{contentmodel.NewUserMessage("", "", contentmodel.NewText("more"))})

	assert.Len(t, s.Messages, 4)
	assert.Equal(t, "more", s.Messages[3].Text())
}
