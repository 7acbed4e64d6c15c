package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const structuredTool = "record_output"

// Anthropic implements Generator with the Messages API. Structured output is
// obtained by forcing a single tool call whose input schema is the target schema.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a Claude-backed generator.
func NewAnthropic(opts Options) *Anthropic {
	model := opts.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *Anthropic) params(system, prompt string) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return p
}

func (a *Anthropic) Structured(ctx context.Context, system, prompt string, schema map[string]any) (json.RawMessage, error) {
	params := a.params(system, prompt)

	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	params.Tools = []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        structuredTool,
			Description: anthropic.String("Record the structured result."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   required,
			},
		},
	}}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: structuredTool},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude api error: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == structuredTool {
			return block.Input, nil
		}
	}
	return nil, fmt.Errorf("claude returned no %s call", structuredTool)
}

func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, a.params(system, prompt))
	if err != nil {
		return "", fmt.Errorf("claude api error: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
