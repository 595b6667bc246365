package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"delorean_back/logger"
)

var ErrDisabled = errors.New("tts: service disabled")

const (
	ProviderElevenLabs = "elevenlabs"
	ProviderCosyVoice  = "aliyun-cosyvoice"
)

type Client struct {
	eleven          *elevenLabsDriver
	cosy            *cosyVoiceDriver
	voices          []VoiceOption
	voiceIndex      map[string]string
	voiceCatalog    map[string]VoiceOption
	providers       []ProviderStatus
	defaultVoice    string
	defaultProvider string
	enabled         bool
}

// NewClientFromEnv builds every driver whose credentials are present.
// TTS_PROVIDER picks the default when more than one is enabled.
func NewClientFromEnv(log *logger.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	client := newClient(
		newElevenLabsDriverFromEnv(httpClient),
		newCosyVoiceDriverFromEnv(log.With("module", "tts")),
		os.Getenv("TTS_PROVIDER"),
	)
	return client, nil
}

func newClient(eleven *elevenLabsDriver, cosy *cosyVoiceDriver, preferred string) *Client {
	c := &Client{eleven: eleven, cosy: cosy}
	c.bootstrapVoiceCatalog(NormalizeProviderID(preferred))
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

func (c *Client) DefaultVoiceID() string {
	if c == nil {
		return ""
	}
	return c.defaultVoice
}

func (c *Client) DefaultProviderID() string {
	if c == nil {
		return ""
	}
	return c.defaultProvider
}

func (c *Client) Voices() []VoiceOption {
	if c == nil {
		return nil
	}
	out := make([]VoiceOption, len(c.voices))
	copy(out, c.voices)
	return out
}

func (c *Client) Providers() []ProviderStatus {
	if c == nil {
		return nil
	}
	out := make([]ProviderStatus, len(c.providers))
	copy(out, c.providers)
	return out
}

func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("tts: text cannot be empty")
	}

	provider := NormalizeProviderID(req.Provider)
	voiceID := strings.TrimSpace(req.VoiceID)
	if provider == "" && voiceID != "" {
		if mapped, ok := c.voiceIndex[strings.ToLower(voiceID)]; ok {
			provider = mapped
		}
	}
	if provider == "" {
		provider = c.defaultProvider
	}

	switch provider {
	case ProviderElevenLabs:
		if !c.eleven.Enabled() {
			return nil, ErrDisabled
		}
		req.VoiceID = firstNonEmpty(voiceID, c.eleven.DefaultVoiceID(), c.defaultVoice)
		req.ResolvedVoice = c.voiceOption(req.VoiceID)
		return c.eleven.Synthesize(ctx, req)
	case ProviderCosyVoice:
		if !c.cosy.Enabled() {
			return nil, ErrDisabled
		}
		req.VoiceID = firstNonEmpty(voiceID, c.cosy.DefaultVoiceID(), c.defaultVoice)
		req.ResolvedVoice = c.voiceOption(req.VoiceID)
		return c.cosy.Synthesize(ctx, req)
	default:
		return nil, fmt.Errorf("tts: unsupported provider %q", provider)
	}
}

func (c *Client) voiceOption(id string) *VoiceOption {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	if c == nil || trimmed == "" {
		return nil
	}
	if option, ok := c.voiceCatalog[trimmed]; ok {
		clone := option
		return &clone
	}
	return nil
}

func (c *Client) bootstrapVoiceCatalog(preferred string) {
	c.voiceIndex = make(map[string]string)
	c.voiceCatalog = make(map[string]VoiceOption)
	c.voices = nil
	c.providers = nil

	type driver interface {
		ProviderID() string
		Enabled() bool
		DefaultVoiceID() string
		ensureVoices() []VoiceOption
	}
	drivers := []driver{}
	if c.eleven != nil {
		drivers = append(drivers, c.eleven)
	}
	if c.cosy != nil {
		drivers = append(drivers, c.cosy)
	}

	var enabledIDs []string
	for _, d := range drivers {
		voices := d.ensureVoices()
		c.providers = append(c.providers, ProviderStatus{
			ID:           d.ProviderID(),
			Enabled:      d.Enabled(),
			DefaultVoice: d.DefaultVoiceID(),
			VoiceCount:   len(voices),
		})
		if !d.Enabled() {
			continue
		}
		enabledIDs = append(enabledIDs, d.ProviderID())
		for _, v := range voices {
			key := strings.ToLower(strings.TrimSpace(v.ID))
			if key == "" {
				continue
			}
			if _, exists := c.voiceCatalog[key]; exists {
				continue
			}
			c.voiceCatalog[key] = v
			c.voiceIndex[key] = d.ProviderID()
			c.voices = append(c.voices, v)
		}
	}

	enabledIDs = orderedDistinct(enabledIDs)
	c.enabled = len(enabledIDs) > 0
	if !c.enabled {
		return
	}
	c.defaultProvider = enabledIDs[0]
	for _, id := range enabledIDs {
		if id == preferred {
			c.defaultProvider = id
		}
	}
	for _, d := range drivers {
		if d.ProviderID() == c.defaultProvider {
			c.defaultVoice = d.DefaultVoiceID()
		}
	}
}

func orderedDistinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func encodingToMime(encoding string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "mp3", "mpeg", "audio/mpeg":
		return "audio/mpeg"
	case "wav", "wave", "audio/wav":
		return "audio/wav"
	case "pcm":
		return "audio/wave"
	case "opus", "audio/opus":
		return "audio/opus"
	default:
		return ""
	}
}

func NormalizeProviderID(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch trimmed {
	case "":
		return ""
	case "eleven", "elevenlabs", "eleven-labs", "eleven_labs":
		return ProviderElevenLabs
	case "aliyun", "ali", "aliyun-cosyvoice", "aliyun_cosyvoice", "cosyvoice", "cosy-voice":
		return ProviderCosyVoice
	default:
		return trimmed
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
