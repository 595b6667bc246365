package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: gemini api key is empty", ErrDisabled)
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Provider() string {
	return ProviderGemini
}

func (g *GeminiGenerator) GenerateWithImage(ctx context.Context, req VisionRequest) (Response, error) {
	if g == nil || g.client == nil {
		return Response{}, ErrDisabled
	}
	if len(req.Image) == 0 {
		return Response{}, errors.New("llm: image is empty")
	}
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.Image, imageMime(req.MimeType, req.Image)),
	}
	return g.generate(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)})
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (Response, error) {
	if g == nil || g.client == nil {
		return Response{}, ErrDisabled
	}
	if strings.TrimSpace(prompt) == "" {
		return Response{}, errors.New("llm: prompt cannot be empty")
	}
	return g.generate(ctx, genai.Text(prompt))
}

func (g *GeminiGenerator) generate(ctx context.Context, contents []*genai.Content) (Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return Response{}, fmt.Errorf("llm: gemini generate: %w", err)
	}
	out := fromGeminiResponse(resp)
	out.Model = g.model
	return out, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) Response {
	out := Response{Provider: ProviderGemini}
	if resp == nil {
		return out
	}
	out.Text = resp.Text()
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil || p.Text == "" {
				continue
			}
			out.Parts = append(out.Parts, Part{Text: p.Text, Thought: p.Thought})
		}
		break
	}
	return out
}
