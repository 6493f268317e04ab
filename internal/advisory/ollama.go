package advisory

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig configures the Ollama critic.
type OllamaConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// OllamaCritic critiques clauses with a local model through langchaingo.
type OllamaCritic struct {
	config OllamaConfig
	llm    llms.Model
}

// NewOllamaCritic connects to the configured Ollama server.
func NewOllamaCritic(config OllamaConfig) (*OllamaCritic, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewModelCritic(llm, config), nil
}

// NewModelCritic wraps any langchaingo model.
func NewModelCritic(llm llms.Model, config OllamaConfig) *OllamaCritic {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	return &OllamaCritic{config: config, llm: llm}
}

func (c *OllamaCritic) Model() string { return c.config.Model }

func (c *OllamaCritic) Critique(ctx context.Context, req Request) ([]Finding, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(req)),
	}
	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(c.config.Temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama critique: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response from model", ErrAnalysisFailed)
	}
	return ParseResponse(resp.Choices[0].Content)
}
