package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsVoice   = "EXAVITQu4vr4xnSDxMaL"
	defaultElevenLabsModel   = "eleven_turbo_v2"
)

type elevenLabsDriver struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	model           string
	defaultVoice    string
	outputFormat    string
	stability       float64
	similarityBoost float64
	providerID      string
	voices          []VoiceOption
	enabled         bool
}

func newElevenLabsDriverFromEnv(httpClient *http.Client) *elevenLabsDriver {
	apiKey := strings.TrimSpace(firstNonEmpty(
		os.Getenv("ELEVENLABS_API_KEY"),
		os.Getenv("TTS_ELEVENLABS_API_KEY"),
	))

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}

	// placeholder values copied from .env.example ("your-voice-id") fall back to the default voice
	voice := strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID"))
	if voice == "" || strings.HasPrefix(voice, "your-") {
		voice = defaultElevenLabsVoice
	}

	model := strings.TrimSpace(os.Getenv("ELEVENLABS_MODEL_ID"))
	if model == "" {
		model = defaultElevenLabsModel
	}

	format := strings.TrimSpace(os.Getenv("ELEVENLABS_OUTPUT_FORMAT"))
	if format == "" {
		format = "mp3_44100_128"
	}

	return &elevenLabsDriver{
		httpClient:      httpClient,
		baseURL:         baseURL,
		apiKey:          apiKey,
		model:           model,
		defaultVoice:    voice,
		outputFormat:    format,
		stability:       envFloat("ELEVENLABS_STABILITY", 0.3),
		similarityBoost: envFloat("ELEVENLABS_SIMILARITY_BOOST", 0.7),
		providerID:      ProviderElevenLabs,
		enabled:         apiKey != "",
	}
}

func (d *elevenLabsDriver) ProviderID() string {
	if d == nil {
		return ProviderElevenLabs
	}
	return d.providerID
}

func (d *elevenLabsDriver) Enabled() bool {
	return d != nil && d.enabled
}

func (d *elevenLabsDriver) DefaultVoiceID() string {
	if d == nil {
		return ""
	}
	return d.defaultVoice
}

func (d *elevenLabsDriver) ensureVoices() []VoiceOption {
	if d == nil {
		return nil
	}
	if len(d.voices) == 0 {
		d.voices = []VoiceOption{{
			ID:       d.defaultVoice,
			Name:     "Bella",
			Provider: d.ProviderID(),
			Language: "en",
			Model:    d.model,
			Format:   "mp3",
		}}
	}
	return d.voices
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

func (d *elevenLabsDriver) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	if !d.Enabled() {
		return nil, ErrDisabled
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("tts: text cannot be empty")
	}
	voiceID := firstNonEmpty(req.VoiceID, d.defaultVoice)

	model := d.model
	if req.ResolvedVoice != nil && strings.TrimSpace(req.ResolvedVoice.Model) != "" {
		model = strings.TrimSpace(req.ResolvedVoice.Model)
	}

	payload := elevenLabsRequest{
		Text:    text,
		ModelID: model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       d.stability,
			SimilarityBoost: d.similarityBoost,
		},
	}
	if req.Speed > 0 {
		payload.VoiceSettings.Speed = clampFloat(req.Speed, 0.7, 1.2)
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("tts: encode elevenlabs request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", d.baseURL, url.PathEscape(voiceID), url.QueryEscape(d.outputFormat))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("tts: create elevenlabs request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", d.apiKey)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts: elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tts: elevenlabs unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read elevenlabs audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts: elevenlabs returned empty audio")
	}

	mime := encodingToMime(strings.SplitN(d.outputFormat, "_", 2)[0])
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &SpeechResult{
		VoiceID:  voiceID,
		Audio:    audio,
		MimeType: mime,
		Provider: d.ProviderID(),
	}, nil
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
