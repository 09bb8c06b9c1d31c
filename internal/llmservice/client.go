package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
)

// LanguageModel completes a text prompt.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client adapts a langchaingo model to LanguageModel with fixed call options.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
}

// NewClient builds the generator for the configured provider.
func NewClient(llmConfig *config.LLMConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":    llmConfig.Provider,
		"base_url":    llmConfig.BaseURL,
		"model":       llmConfig.Model,
		"temperature": llmConfig.Temperature,
	}).Msg("Creating language model")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		if llmConfig.Key == "" {
			return nil, apperr.Config("new language model", fmt.Errorf("openai: %w", apperr.ErrMissingCredentials))
		}
		opts := []openai.Option{
			openai.WithModel(llmConfig.Model),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err = openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, apperr.Config("new language model", fmt.Errorf("unsupported llm provider %q", llmConfig.Provider))
	}
	if err != nil {
		return nil, apperr.Config("new language model", fmt.Errorf("initialize %s client: %w", llmConfig.Provider, err))
	}
	return NewClientWithModel(llm, llmConfig.Model, llmConfig.Temperature), nil
}

// NewClientWithModel wraps an existing langchaingo model.
func NewClientWithModel(llm llms.Model, model string, temperature float64) *Client {
	return &Client{llm: llm, model: model, temperature: temperature}
}

// Complete sends prompt as a single human message and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	log.Debug().Str("model", c.model).Int("prompt_chars", len(prompt)).Msg("Generating content")

	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", apperr.Upstream("generate content", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", apperr.Upstream("generate content", errors.New("model returned an empty completion"))
	}
	return out, nil
}
