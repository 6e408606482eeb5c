package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures a client for OpenAI-compatible servers
// (LM Studio, vLLM, llama.cpp server, OpenAI itself).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// OpenAICompatible implements Engine over the chat completions API.
type OpenAICompatible struct {
	client *openai.Client
}

func NewOpenAICompatible(cfg OpenAIConfig) *OpenAICompatible {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		base := strings.TrimRight(cfg.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		oc.BaseURL = base
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAICompatible{client: openai.NewClientWithConfig(oc)}
}

func (o *OpenAICompatible) Name() string { return "LM Studio" }

func (o *OpenAICompatible) Models(ctx context.Context) (models []string, err error) {
	start := time.Now()
	defer func() { observe("openai", "models", start, err) }()

	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

func (o *OpenAICompatible) Generate(ctx context.Context, req GenerateRequest) (text string, err error) {
	start := time.Now()
	defer func() { observe("openai", "generate", start, err) }()

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	ccr := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.Options.NumPredict,
		Temperature: float32(req.Options.Temperature),
		TopP:        float32(req.Options.TopP),
	}
	if req.JSON {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}
