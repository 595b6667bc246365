package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

var ErrDisabled = errors.New("llm: no story provider configured")

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// VisionRequest pairs a prompt with inline image bytes.
type VisionRequest struct {
	Prompt   string
	Image    []byte
	MimeType string
}

// Generator is a vision-capable text generator.
type Generator interface {
	Provider() string
	GenerateWithImage(ctx context.Context, req VisionRequest) (Response, error)
	GenerateText(ctx context.Context, prompt string) (Response, error)
}

// NewGeneratorFromEnv picks a provider.
//
// Expected variables:
//   - STORY_PROVIDER: optional "gemini" or "openai"; when unset the first
//     provider with a key wins, Gemini first
//   - GEMINI_API_KEY (or GOOGLE_API_KEY), GEMINI_MODEL
//   - OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
//
// No usable key yields ErrDisabled.
func NewGeneratorFromEnv(ctx context.Context) (Generator, error) {
	provider := NormalizeProviderID(os.Getenv("STORY_PROVIDER"))
	geminiKey := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	switch provider {
	case ProviderGemini:
		if geminiKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrDisabled)
		}
		return NewGeminiGenerator(ctx, GeminiConfig{APIKey: geminiKey, Model: os.Getenv("GEMINI_MODEL")})
	case ProviderOpenAI:
		if openAIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrDisabled)
		}
		return NewOpenAIGenerator(OpenAIConfig{APIKey: openAIKey, BaseURL: os.Getenv("OPENAI_BASE_URL"), Model: os.Getenv("OPENAI_MODEL")})
	case "":
	default:
		return nil, fmt.Errorf("llm: unknown STORY_PROVIDER %q", provider)
	}

	switch {
	case geminiKey != "":
		return NewGeminiGenerator(ctx, GeminiConfig{APIKey: geminiKey, Model: os.Getenv("GEMINI_MODEL")})
	case openAIKey != "":
		return NewOpenAIGenerator(OpenAIConfig{APIKey: openAIKey, BaseURL: os.Getenv("OPENAI_BASE_URL"), Model: os.Getenv("OPENAI_MODEL")})
	default:
		return nil, ErrDisabled
	}
}

// NormalizeProviderID maps aliases onto the canonical provider names.
func NormalizeProviderID(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "gemini", "google", "genai":
		return ProviderGemini
	case "openai", "open-ai", "openai-compatible":
		return ProviderOpenAI
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// DataURL inlines image bytes as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + imageMime(mimeType, data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func imageMime(declared string, data []byte) string {
	if m := strings.TrimSpace(declared); m != "" {
		return m
	}
	if len(data) == 0 {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
