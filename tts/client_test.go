package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"delorean_back/logger"
	"delorean_back/storage"
	"github.com/gorilla/websocket"
)

func testElevenLabsDriver(baseURL string) *elevenLabsDriver {
	return &elevenLabsDriver{
		httpClient:      http.DefaultClient,
		baseURL:         baseURL,
		apiKey:          "xi-test",
		model:           defaultElevenLabsModel,
		defaultVoice:    defaultElevenLabsVoice,
		outputFormat:    "mp3_44100_128",
		stability:       0.3,
		similarityBoost: 0.7,
		providerID:      ProviderElevenLabs,
		enabled:         true,
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	client := newClient(testElevenLabsDriver(srv.URL), nil, "")
	res, err := client.Synthesize(context.Background(), SpeechRequest{Text: "hello there"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/"+defaultElevenLabsVoice {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "xi-test" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotBody.ModelID != "eleven_turbo_v2" || gotBody.VoiceSettings.Stability != 0.3 || gotBody.VoiceSettings.SimilarityBoost != 0.7 {
		t.Fatalf("body = %+v", gotBody)
	}
	if string(res.Audio) != "ID3audio" || res.MimeType != "audio/mpeg" || res.Provider != ProviderElevenLabs {
		t.Fatalf("result = %+v", res)
	}
}

func TestElevenLabsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newClient(testElevenLabsDriver(srv.URL), nil, "")
	_, err := client.Synthesize(context.Background(), SpeechRequest{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestClientDisabledWithoutKeys(t *testing.T) {
	client := newClient(&elevenLabsDriver{providerID: ProviderElevenLabs}, &cosyVoiceDriver{providerID: ProviderCosyVoice}, "")
	if client.Enabled() {
		t.Fatalf("client enabled without keys")
	}
	if _, err := client.Synthesize(context.Background(), SpeechRequest{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if len(client.Providers()) != 2 {
		t.Fatalf("providers = %+v", client.Providers())
	}
}

func TestClientPrefersConfiguredProvider(t *testing.T) {
	cosy := &cosyVoiceDriver{providerID: ProviderCosyVoice, apiKey: "k", enabled: true, defaultVoice: "longwan", log: logger.Nop()}
	client := newClient(testElevenLabsDriver("http://unused"), cosy, "cosyvoice")
	if client.DefaultProviderID() != ProviderCosyVoice || client.DefaultVoiceID() != "longwan" {
		t.Fatalf("default = %s/%s", client.DefaultProviderID(), client.DefaultVoiceID())
	}
	if got := client.voiceIndex[strings.ToLower(defaultElevenLabsVoice)]; got != ProviderElevenLabs {
		t.Fatalf("voice index = %q", got)
	}
}

func TestNormalizeProviderID(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"ElevenLabs":  ProviderElevenLabs,
		"eleven_labs": ProviderElevenLabs,
		"cosy-voice":  ProviderCosyVoice,
		"custom":      "custom",
	}
	for in, want := range cases {
		if got := NormalizeProviderID(in); got != want {
			t.Fatalf("NormalizeProviderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCosyVoiceSynthesize(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotText := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				Header struct {
					Action string `json:"action"`
					TaskID string `json:"task_id"`
				} `json:"header"`
				Payload struct {
					Input struct {
						Text string `json:"text"`
					} `json:"input"`
				} `json:"payload"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			event := func(name string) {
				_ = conn.WriteJSON(map[string]any{"header": map[string]any{"task_id": msg.Header.TaskID, "event": name}})
			}
			switch msg.Header.Action {
			case "run-task":
				event("task-started")
			case "continue-task":
				gotText <- msg.Payload.Input.Text
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte("chunk1"))
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte("chunk2"))
			case "finish-task":
				event("task-finished")
				return
			}
		}
	}))
	defer srv.Close()

	driver := &cosyVoiceDriver{
		endpoint:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		apiKey:       "k",
		model:        "cosyvoice-v1",
		defaultVoice: "longwan",
		format:       "mp3",
		sampleRate:   22050,
		volume:       50,
		providerID:   ProviderCosyVoice,
		enabled:      true,
		log:          logger.Nop(),
	}
	res, err := driver.Synthesize(context.Background(), SpeechRequest{Text: "line one\nline two"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "chunk1chunk2" {
		t.Fatalf("audio = %q", res.Audio)
	}
	if text := <-gotText; text != "line one. line two" {
		t.Fatalf("text sent = %q", text)
	}
}

func TestNarratorWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	files, err := storage.NewContentStore(filepath.Join(t.TempDir(), "audio"), "/audio")
	if err != nil {
		t.Fatalf("content store: %v", err)
	}
	narrator := NewNarrator(newClient(testElevenLabsDriver(srv.URL), nil, ""), files)
	name, err := narrator.SynthesizeToFile(context.Background(), "A story.", "asset-1")
	if err != nil {
		t.Fatalf("SynthesizeToFile: %v", err)
	}
	if name != "asset-1.mp3" {
		t.Fatalf("name = %q", name)
	}
	data, err := os.ReadFile(filepath.Join(files.BaseDir(), name))
	if err != nil || string(data) != "mp3-bytes" {
		t.Fatalf("file = %q err = %v", data, err)
	}
	if narrator.PublicPath(name) != "/audio/asset-1.mp3" {
		t.Fatalf("public path = %q", narrator.PublicPath(name))
	}

	var disabled *Narrator
	if _, err := disabled.SynthesizeToFile(context.Background(), "x", "y"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("nil narrator err = %v", err)
	}
}
