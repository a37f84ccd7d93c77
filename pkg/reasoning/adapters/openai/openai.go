package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/reasoning"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// DefaultChatModel is used when the configuration names no model.
const DefaultChatModel = "gpt-4"

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// ChatModel is the model to use for chat completions, e.g., "gpt-4".
	ChatModel string
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
}

// OpenAIAdapter implements the reasoning.Engine interface using the
// OpenAI chat completion API.
type OpenAIAdapter struct {
	client    *openai.Client
	chatModel string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIAdapter{
		client:    openai.NewClientWithConfig(clientConfig),
		chatModel: config.ChatModel,
	}, nil
}

// ProcessMessages generates a response to the given messages using the OpenAI API.
func (a *OpenAIAdapter) ProcessMessages(ctx context.Context, messages []map[string]string, opts ...reasoning.Option) (string, error) {
	options := reasoning.DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	model := a.chatModel
	if options.Model != "" {
		model = options.Model
	}

	log.Debug("Processing chat request", "model", model, "messages", len(messages))

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg["role"],
			Content: msg["content"],
		}
	}

	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	}

	response, err := a.client.CreateChatCompletion(ctx, request)
	if err != nil {
		log.Error("Failed to generate chat completion", "error", err)
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)

	log.Debug("Successfully generated response",
		"tokens", response.Usage.TotalTokens,
		"model", model)

	return content, nil
}

// Process implements the reasoning.Engine interface by adapting to our messages format.
func (a *OpenAIAdapter) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	messages := []map[string]string{
		{"role": "user", "content": prompt},
	}
	return a.ProcessMessages(ctx, messages, opts...)
}
