package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultOpenAIBaseURL = "http://localhost:11434/v1"
	DefaultOpenAIModel   = "qwen-plus"

	// local endpoints do not check the token but the client refuses an empty one
	placeholderToken = "no-key"
)

// OpenAI is a Completer for any OpenAI-compatible chat completion endpoint
type OpenAI struct {
	client *openai.LLM
	model  string
}

type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   string
	token   string
}

func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

func WithOpenAIToken(token string) OpenAIOption {
	return func(c *openAIConfig) { c.token = token }
}

func NewOpenAI(opts ...OpenAIOption) (*OpenAI, error) {
	cfg := &openAIConfig{
		baseURL: DefaultOpenAIBaseURL,
		model:   DefaultOpenAIModel,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	token := cfg.token
	if token == "" {
		token = placeholderToken
	}

	client, err := openai.New(
		openai.WithToken(token),
		openai.WithModel(cfg.model),
		openai.WithBaseURL(strings.TrimRight(cfg.baseURL, "/")),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai client", goerr.V("base_url", cfg.baseURL))
	}

	return &OpenAI{client: client, model: cfg.model}, nil
}

func (x *OpenAI) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(system)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(user)}},
	}

	resp, err := x.client.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate completion", goerr.V("model", x.model))
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", goerr.Wrap(ErrEmptyCompletion, "openai returned no text", goerr.V("model", x.model))
	}
	return resp.Choices[0].Content, nil
}
