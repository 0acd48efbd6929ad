// Package google adapts llm.Client to the Gemini API via
// google.golang.org/genai. There is no teacher adapter for this
// provider — goadesign-goa-ai only ships Anthropic/OpenAI/Bedrock
// clients — so the translation shape here is enriched from
// haasonsaas-nexus, the pack repo whose go.mod pulls in genai.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// Options configures the Gemini adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client implements llm.Client via the Gemini API.
type Client struct {
	genai *genai.Client
	model string
}

// New builds a Gemini-backed llm.Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("google: api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("google: model is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{genai: c, model: opts.Model}, nil
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, messages []contentmodel.Message, tools []tool.Tool, systemPrompt string) (llm.Response, error) {
	contents, err := encodeContents(messages)
	if err != nil {
		return llm.Response{}, err
	}
	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemPrompt) != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if encoded, err := encodeTools(tools); err != nil {
		return llm.Response{}, err
	} else if len(encoded) > 0 {
		config.Tools = encoded
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.Response{}, err
	}
	return translateResponse(resp), nil
}

func encodeContents(messages []contentmodel.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case contentmodel.RoleUser:
			out = append(out, genai.NewContentFromText(m.Text(), genai.RoleUser))
		case contentmodel.RoleModel:
			parts := make([]*genai.Part, 0, len(m.Contents)+len(m.ToolCalls))
			if text := m.Text(); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &args); err != nil {
						return nil, err
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
		case contentmodel.RoleTool:
			response := map[string]any{"content": m.ToolResult.Content, "error": m.ToolResult.Error}
			out = append(out, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(m.ToolName, response)},
				genai.RoleUser,
			))
		}
	}
	return out, nil
}

func encodeTools(tools []tool.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema *genai.Schema
		if len(t.Parameters) > 0 {
			schema = &genai.Schema{}
			if err := json.Unmarshal(t.Parameters, schema); err != nil {
				return nil, err
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}, nil
}

func translateResponse(resp *genai.GenerateContentResponse) llm.Response {
	if len(resp.Candidates) == 0 {
		return llm.Response{Message: contentmodel.NewModelMessage(nil, nil)}
	}
	candidate := resp.Candidates[0]
	var contents []contentmodel.Content
	var toolCalls []contentmodel.ToolCall
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				contents = append(contents, contentmodel.NewText(part.Text))
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				toolCalls = append(toolCalls, contentmodel.ToolCall{Name: part.FunctionCall.Name, Args: args})
			}
		}
	}
	totalTokens := 0
	if resp.UsageMetadata != nil {
		totalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return llm.Response{
		Message:      contentmodel.NewModelMessage(contents, toolCalls),
		FinishReason: string(candidate.FinishReason),
		TotalTokens:  totalTokens,
	}
}
