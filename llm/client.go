package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIGenerator talks to any OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: openai api key is empty", ErrDisabled)
	}
	config := openai.DefaultConfig(key)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return nil, fmt.Errorf("llm: invalid base URL %q", base)
		}
		config.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(config), model: model}, nil
}

func (g *OpenAIGenerator) Provider() string {
	return ProviderOpenAI
}

func (g *OpenAIGenerator) GenerateWithImage(ctx context.Context, req VisionRequest) (Response, error) {
	if g == nil || g.client == nil {
		return Response{}, ErrDisabled
	}
	if len(req.Image) == 0 {
		return Response{}, errors.New("llm: image is empty")
	}
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    DataURL(req.MimeType, req.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
	return g.chat(ctx, []openai.ChatCompletionMessage{msg})
}

func (g *OpenAIGenerator) GenerateText(ctx context.Context, prompt string) (Response, error) {
	if g == nil || g.client == nil {
		return Response{}, ErrDisabled
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Response{}, errors.New("llm: prompt cannot be empty")
	}
	return g.chat(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: trimmed},
	})
}

func (g *OpenAIGenerator) chat(ctx context.Context, messages []openai.ChatCompletionMessage) (Response, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: chat completion: %w", err)
	}
	out := fromChatCompletion(resp)
	out.Model = g.model
	return out, nil
}

func fromChatCompletion(resp openai.ChatCompletionResponse) Response {
	out := Response{Provider: ProviderOpenAI}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, p := range msg.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText {
			out.Parts = append(out.Parts, Part{Text: p.Text})
		}
	}
	return out
}
