// Package llm provides LLM and embedding services using langchaingo.
package llm

import (
	"context"
	"fmt"

	"github.com/bmblack/backlog-synthesizer/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// TokenUsage holds input/output token counts for one generation call.
// Counts are zero when the provider does not report usage.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Response is the result of one generation call.
type Response struct {
	Content string
	Tokens  TokenUsage
}

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// GenerateWithSystem generates text with a system prompt and reports token usage.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return Response{}, fmt.Errorf("generate with system: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	return Response{
		Content: choice.Content,
		Tokens:  usageFromInfo(choice.GenerationInfo),
	}, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// usageFromInfo pulls token counts out of a provider's generation info.
// Providers disagree on key names; check the known variants.
func usageFromInfo(info map[string]any) TokenUsage {
	var usage TokenUsage
	for _, key := range []string{"InputTokens", "PromptTokens", "prompt_tokens"} {
		if n, ok := asInt(info[key]); ok {
			usage.Input = n
			break
		}
	}
	for _, key := range []string{"OutputTokens", "CompletionTokens", "completion_tokens"} {
		if n, ok := asInt(info[key]); ok {
			usage.Output = n
			break
		}
	}
	return usage
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
