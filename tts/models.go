package tts

import (
	"context"
)

type VoiceOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
	Model       string `json:"model,omitempty"`
	Format      string `json:"format,omitempty"`
}

// ProviderStatus is what GET /api/tts/voices reports per driver.
type ProviderStatus struct {
	ID           string `json:"id"`
	Enabled      bool   `json:"enabled"`
	DefaultVoice string `json:"default_voice,omitempty"`
	VoiceCount   int    `json:"voice_count"`
}

type SpeechRequest struct {
	Text     string
	VoiceID  string
	Provider string
	Speed    float64
	Format   string

	ResolvedVoice *VoiceOption
}

type SpeechResult struct {
	VoiceID  string `json:"voice_id"`
	Audio    []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Provider string `json:"provider"`
}

// Extension maps the result MIME type onto a file extension.
func (r *SpeechResult) Extension() string {
	if r == nil {
		return ".mp3"
	}
	switch r.MimeType {
	case "audio/wav", "audio/wave":
		return ".wav"
	case "audio/opus":
		return ".opus"
	default:
		return ".mp3"
	}
}

type Synthesizer interface {
	Enabled() bool
	DefaultVoiceID() string
	Voices() []VoiceOption
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}
