package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"delorean_back/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type cosyVoiceDriver struct {
	endpoint       string
	apiKey         string
	workspace      string
	dataInspection string
	model          string
	defaultVoice   string
	format         string
	sampleRate     int
	volume         int
	timeout        time.Duration
	providerID     string
	voices         []VoiceOption
	enabled        bool
	log            *logger.Logger
}

func newCosyVoiceDriverFromEnv(log *logger.Logger) *cosyVoiceDriver {
	endpoint := strings.TrimSpace(firstNonEmpty(
		os.Getenv("COSYVOICE_WS_URL"),
		os.Getenv("TTS_COSYVOICE_WS_URL"),
	))
	if endpoint == "" {
		endpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	}

	apiKey := strings.TrimSpace(firstNonEmpty(
		os.Getenv("COSYVOICE_API_KEY"),
		os.Getenv("DASHSCOPE_API_KEY"),
	))

	model := strings.TrimSpace(os.Getenv("COSYVOICE_MODEL"))
	if model == "" {
		model = "cosyvoice-v1"
	}

	defaultVoice := strings.TrimSpace(os.Getenv("COSYVOICE_DEFAULT_VOICE"))
	if defaultVoice == "" {
		defaultVoice = "longwan"
	}

	format := strings.TrimSpace(os.Getenv("COSYVOICE_FORMAT"))
	if format == "" {
		format = "mp3"
	}

	sampleRate := 22050
	if raw := strings.TrimSpace(os.Getenv("COSYVOICE_SAMPLE_RATE")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			sampleRate = parsed
		}
	}

	volume := 50
	if raw := strings.TrimSpace(os.Getenv("COSYVOICE_VOLUME")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 && parsed <= 100 {
			volume = parsed
		}
	}

	return &cosyVoiceDriver{
		endpoint:       endpoint,
		apiKey:         apiKey,
		workspace:      strings.TrimSpace(os.Getenv("COSYVOICE_WORKSPACE")),
		dataInspection: strings.TrimSpace(os.Getenv("COSYVOICE_DATA_INSPECTION")),
		model:          model,
		defaultVoice:   defaultVoice,
		format:         format,
		sampleRate:     sampleRate,
		volume:         volume,
		timeout:        75 * time.Second,
		providerID:     ProviderCosyVoice,
		enabled:        apiKey != "",
		log:            log,
	}
}

func (d *cosyVoiceDriver) ProviderID() string {
	if d == nil {
		return ProviderCosyVoice
	}
	return d.providerID
}

func (d *cosyVoiceDriver) Enabled() bool {
	return d != nil && d.enabled
}

func (d *cosyVoiceDriver) DefaultVoiceID() string {
	if d == nil {
		return ""
	}
	return d.defaultVoice
}

func (d *cosyVoiceDriver) ensureVoices() []VoiceOption {
	if d == nil {
		return nil
	}
	if len(d.voices) == 0 {
		d.voices = []VoiceOption{
			{ID: "longwan", Name: "Longwan", Provider: d.ProviderID(), Language: "zh-CN", Model: d.model, Format: d.format},
			{ID: "longcheng", Name: "Longcheng", Provider: d.ProviderID(), Language: "zh-CN", Model: d.model, Format: d.format},
			{ID: "loongstella", Name: "Stella", Provider: d.ProviderID(), Language: "en", Model: d.model, Format: d.format},
		}
		if !containsVoiceID(d.voices, d.defaultVoice) {
			d.voices = append([]VoiceOption{{ID: d.defaultVoice, Name: d.defaultVoice, Provider: d.ProviderID(), Model: d.model, Format: d.format}}, d.voices...)
		}
	}
	return d.voices
}

// Synthesize runs one duplex task: run-task, continue-task with the text,
// finish-task, collecting binary audio frames until task-finished.
func (d *cosyVoiceDriver) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	if !d.Enabled() {
		return nil, ErrDisabled
	}

	textValue := normalizeSpeechText(req.Text)
	if textValue == "" {
		return nil, errors.New("tts: text cannot be empty")
	}

	voiceID := firstNonEmpty(req.VoiceID, d.defaultVoice)
	format := firstNonEmpty(req.Format, d.format, "mp3")
	model := d.model
	if req.ResolvedVoice != nil {
		if v := strings.TrimSpace(req.ResolvedVoice.Model); v != "" {
			model = v
		}
	}

	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	speed = clampFloat(speed, 0.5, 1.6)

	header := http.Header{}
	header.Set("Authorization", "bearer "+d.apiKey)
	header.Set("User-Agent", "delorean-cosyvoice-client/1.0")
	if d.workspace != "" {
		header.Set("X-DashScope-WorkSpace", d.workspace)
	}
	if d.dataInspection != "" {
		header.Set("X-DashScope-DataInspection", d.dataInspection)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 8 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, d.endpoint, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("tts: cosyvoice connect failed: %v (%s)", err, strings.TrimSpace(string(body)))
			}
		}
		return nil, fmt.Errorf("tts: cosyvoice connect failed: %w", err)
	}
	defer conn.Close()

	taskID := uuid.NewString()

	run := cosyVoiceCommand("run-task", taskID, map[string]any{
		"task_group": "audio",
		"task":       "tts",
		"function":   "SpeechSynthesizer",
		"model":      model,
		"parameters": map[string]any{
			"text_type":   "PlainText",
			"voice":       voiceID,
			"format":      strings.ToLower(format),
			"sample_rate": d.sampleRate,
			"volume":      d.volume,
			"rate":        speed,
		},
		"input": map[string]any{},
	})
	if err := conn.WriteJSON(run); err != nil {
		return nil, fmt.Errorf("tts: cosyvoice run-task failed: %w", err)
	}

	audioBuf := &bytes.Buffer{}
	if err := d.waitForCosyEvent(ctx, conn, taskID, "task-started", audioBuf); err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(cosyVoiceCommand("continue-task", taskID, map[string]any{
		"input": map[string]any{"text": textValue},
	})); err != nil {
		return nil, fmt.Errorf("tts: cosyvoice continue-task failed: %w", err)
	}
	if err := conn.WriteJSON(cosyVoiceCommand("finish-task", taskID, map[string]any{
		"input": map[string]any{},
	})); err != nil {
		return nil, fmt.Errorf("tts: cosyvoice finish-task failed: %w", err)
	}

	if err := d.waitForCosyEvent(ctx, conn, taskID, "task-finished", audioBuf); err != nil {
		return nil, err
	}

	if audioBuf.Len() == 0 {
		return nil, errors.New("tts: cosyvoice returned empty audio")
	}

	mime := encodingToMime(format)
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &SpeechResult{
		VoiceID:  voiceID,
		Audio:    audioBuf.Bytes(),
		MimeType: mime,
		Provider: d.ProviderID(),
	}, nil
}

func cosyVoiceCommand(action, taskID string, payload map[string]any) map[string]any {
	return map[string]any{
		"header": map[string]any{
			"action":    action,
			"task_id":   taskID,
			"streaming": "duplex",
		},
		"payload": payload,
	}
}

func (d *cosyVoiceDriver) waitForCosyEvent(ctx context.Context, conn *websocket.Conn, taskID string, target string, audioBuf *bytes.Buffer) error {
	target = strings.ToLower(strings.TrimSpace(target))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(d.timeout))
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("tts: cosyvoice read failed: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			if len(data) > 0 && audioBuf != nil {
				audioBuf.Write(data)
			}
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var event cosyVoiceEvent
		if err := json.Unmarshal(data, &event); err != nil {
			d.log.Warn("cosyvoice parse event failed", "error", err)
			continue
		}
		if taskID != "" && event.Header.TaskID != "" && !strings.EqualFold(event.Header.TaskID, taskID) {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(event.Header.Event)) {
		case "task-failed":
			message := strings.TrimSpace(event.Header.ErrorMessage)
			if message == "" {
				message = "unknown error"
			}
			return fmt.Errorf("tts: cosyvoice task failed: %s (%s)", message, event.Header.ErrorCode)
		case target:
			return nil
		}
	}
}

type cosyVoiceEvent struct {
	Header struct {
		TaskID       string `json:"task_id"`
		Event        string `json:"event"`
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"header"`
}

func containsVoiceID(list []VoiceOption, id string) bool {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item.ID, trimmed) {
			return true
		}
	}
	return false
}

var (
	newlinePattern    = regexp.MustCompile(`[\r\n]+`)
	multiSpacePattern = regexp.MustCompile(`\s{2,}`)
	markupPattern     = regexp.MustCompile(`[\[\]\{\}<>*_#]+`)
)

// normalizeSpeechText flattens markdown-ish narrative text into one spoken line.
func normalizeSpeechText(value string) string {
	out := newlinePattern.ReplaceAllString(value, ". ")
	out = markupPattern.ReplaceAllString(out, "")
	out = multiSpacePattern.ReplaceAllString(out, " ")
	out = strings.ReplaceAll(out, ". . ", ". ")
	out = strings.ReplaceAll(out, ".. ", ". ")
	return strings.TrimSpace(out)
}
