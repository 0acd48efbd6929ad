// Package openai adapts llm.Client to the OpenAI Chat Completions API via
// github.com/openai/openai-go, following the request/response
// translation shape of the teacher's features/model/openai adapter
// (there built on a different OpenAI SDK; here re-expressed against the
// pack's actual openai-go dependency).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// Options configures the OpenAI adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client implements llm.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  openai.Client
	model string
}

// New builds an OpenAI-backed llm.Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{chat: openai.NewClient(reqOpts...), model: opts.Model}, nil
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, messages []contentmodel.Message, tools []tool.Tool, systemPrompt string) (llm.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: encodeMessages(messages, systemPrompt),
	}
	if encoded, err := encodeTools(tools); err != nil {
		return llm.Response{}, err
	} else if len(encoded) > 0 {
		params.Tools = encoded
	}

	resp, err := c.chat.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

func encodeMessages(messages []contentmodel.Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case contentmodel.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case contentmodel.RoleModel:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := m.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.Name,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case contentmodel.RoleTool:
			out = append(out, openai.ToolMessage(toolResultText(m.ToolResult), m.ToolID))
		}
	}
	return out
}

func toolResultText(result contentmodel.ToolResult) string {
	if !result.Success {
		return "error: " + result.Error
	}
	return result.Content
}

func encodeTools(tools []tool.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("openai: marshal tool %s schema: %w", t.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(schema),
		}))
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) llm.Response {
	if len(resp.Choices) == 0 {
		return llm.Response{
			Message:     contentmodel.NewModelMessage(nil, nil),
			TotalTokens: int(resp.Usage.TotalTokens),
		}
	}
	choice := resp.Choices[0]
	var contents []contentmodel.Content
	if choice.Message.Content != "" {
		contents = append(contents, contentmodel.NewText(choice.Message.Content))
	}
	var toolCalls []contentmodel.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, contentmodel.ToolCall{
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return llm.Response{
		Message:      contentmodel.NewModelMessage(contents, toolCalls),
		FinishReason: string(choice.FinishReason),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
}
