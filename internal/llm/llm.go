// Package llm is the language-model capability the memory system consumes:
// structured output against a JSON schema, and free text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable means no provider is configured.
var ErrUnavailable = errors.New("generator unavailable")

// Generator produces model output.
type Generator interface {
	// Structured returns a JSON object conforming to schema (a JSON Schema object).
	Structured(ctx context.Context, system, prompt string, schema map[string]any) (json.RawMessage, error)
	// Complete returns free text.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider  string // "anthropic" | "openai" | "" (disabled)
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
}

// New builds the configured generator.
func New(opts Options) (Generator, error) {
	switch opts.Provider {
	case "anthropic":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w: missing API key", ErrUnavailable)
		}
		return NewAnthropic(opts), nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai: %w: missing API key", ErrUnavailable)
		}
		return NewOpenAI(opts), nil
	case "":
		return nil, ErrUnavailable
	}
	return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
}

// ExtractJSON pulls the outermost JSON object out of free text, tolerating
// code fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	b := []byte(text)
	start := bytes.IndexByte(b, '{')
	end := bytes.LastIndexByte(b, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	raw := json.RawMessage(b[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}
	return raw, nil
}
