package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"delorean_back/llm"
	"delorean_back/logger"
	"delorean_back/manifest"
	"delorean_back/storage"
	"delorean_back/story"
	"delorean_back/tunnel"
	"github.com/gin-gonic/gin"
)

type stubGenerator struct {
	calls atomic.Int32
}

func (g *stubGenerator) Provider() string { return "stub" }

func (g *stubGenerator) GenerateWithImage(ctx context.Context, req llm.VisionRequest) (llm.Response, error) {
	n := g.calls.Add(1)
	return llm.Response{Text: "a story #" + string(rune('0'+n))}, nil
}

func (g *stubGenerator) GenerateText(ctx context.Context, prompt string) (llm.Response, error) {
	return llm.Response{Text: "summary"}, nil
}

type testServer struct {
	router *gin.Engine
	assets *manifest.Store
	images *storage.ContentStore
	gen    *stubGenerator
}

func newTestServer(t *testing.T, withProvider bool) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()

	images, err := storage.NewContentStore(filepath.Join(root, "uploads"), "/uploads")
	if err != nil {
		t.Fatalf("image store: %v", err)
	}
	audio, err := storage.NewContentStore(filepath.Join(root, "audio"), "/audio")
	if err != nil {
		t.Fatalf("audio store: %v", err)
	}
	assets, err := manifest.Open(filepath.Join(root, "manifest.json"), images, logger.Nop())
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}

	var gen *stubGenerator
	var generator llm.Generator
	if withProvider {
		gen = &stubGenerator{}
		generator = gen
	}

	router := gin.New()
	_, err = RegisterRoutes(router, Options{
		Assets:        assets,
		Images:        images,
		Audio:         audio,
		Stories:       story.NewService(generator, assets, images, nil, logger.Nop()),
		Sessions:      tunnel.NewMemorySessionStore(0),
		PublicBaseURL: "http://example.test",
		Logger:        logger.Nop(),
	})
	if err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	return testServer{router: router, assets: assets, images: images, gen: gen}
}

func (s testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func jpegFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 16))
	for x := 0; x < 24; x++ {
		img.Set(x, x%16, color.RGBA{R: 200, G: 80, B: 20, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

type upload struct {
	name string
	mime string
	data []byte
}

func uploadRequest(t *testing.T, target string, files []upload, contexts string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="images"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.mime)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if contexts != "" {
		if err := w.WriteField("contexts", contexts); err != nil {
			t.Fatalf("write contexts: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type assetsBody struct {
	Assets []assetDTO `json:"assets"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func (s testServer) uploadThree(t *testing.T, target string) []assetDTO {
	t.Helper()
	data := jpegFixture(t)
	files := []upload{
		{"beach.jpg", "image/jpeg", data},
		{"IMG_0042.jpg", "image/jpeg", data},
		{"grad.jpg", "image/jpeg", data},
	}
	rec := s.do(t, uploadRequest(t, target, files, `["beach","","graduation"]`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body.String())
	}
	return decode[assetsBody](t, rec).Assets
}

func TestUploadNormalizesAndFillsPlaceholders(t *testing.T) {
	s := newTestServer(t, false)
	assets := s.uploadThree(t, "/api/uploads")

	if len(assets) != 3 {
		t.Fatalf("got %d assets, want 3", len(assets))
	}
	if assets[0].Context != "beach" || assets[2].Context != "graduation" {
		t.Fatalf("contexts = %q, %q", assets[0].Context, assets[2].Context)
	}
	if !strings.Contains(assets[1].Context, "Memory") {
		t.Fatalf("placeholder context = %q", assets[1].Context)
	}
	for i, a := range assets {
		if a.MimeType != "image/webp" || !strings.HasSuffix(a.Filename, ".webp") {
			t.Fatalf("asset %d stored as %q %q", i, a.MimeType, a.Filename)
		}
		if a.OriginalMimeType != "image/jpeg" {
			t.Fatalf("asset %d original mime = %q", i, a.OriginalMimeType)
		}
		if a.Story.Status != manifest.StatusPending {
			t.Fatalf("asset %d story status = %q", i, a.Story.Status)
		}
		if i > 0 && a.Order <= assets[i-1].Order {
			t.Fatalf("order not increasing: %d then %d", assets[i-1].Order, a.Order)
		}
		if !strings.HasPrefix(a.URL, "http://example.test/uploads/") {
			t.Fatalf("url = %q", a.URL)
		}
		if !s.images.Exists(a.Filename) {
			t.Fatalf("asset %d file missing", i)
		}
	}

	list := decode[assetsBody](t, s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads", nil)))
	if len(list.Assets) != 3 || list.Assets[0].ID != assets[0].ID {
		t.Fatalf("list = %+v", list.Assets)
	}
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t, false)
	data := jpegFixture(t)

	tooMany := make([]upload, MaxFiles+1)
	for i := range tooMany {
		tooMany[i] = upload{"a.jpg", "image/jpeg", data}
	}

	cases := []struct {
		name     string
		files    []upload
		contexts string
	}{
		{"no files", nil, ""},
		{"too many", tooMany, ""},
		{"text file", []upload{{"notes.txt", "text/plain", []byte("hello there")}}, ""},
		{"bad contexts", []upload{{"a.jpg", "image/jpeg", data}}, `["unterminated`},
		{"undecodable", []upload{{"a.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff, 0x00, 0x01}}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, uploadRequest(t, "/api/uploads", tc.files, tc.contexts))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
	if got := len(s.assets.List()); got != 0 {
		t.Fatalf("manifest has %d records after rejected uploads", got)
	}
}

func TestDeleteTwice(t *testing.T) {
	s := newTestServer(t, false)
	assets := s.uploadThree(t, "/api/uploads")
	target := "/api/uploads/" + assets[1].ID

	rec := s.do(t, httptest.NewRequest(http.MethodDelete, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first delete = %d", rec.Code)
	}
	if s.images.Exists(assets[1].Filename) {
		t.Fatalf("image file still present after delete")
	}
	rec = s.do(t, httptest.NewRequest(http.MethodDelete, target, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}
	if got := len(s.assets.List()); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
}

type storyBody struct {
	Story  storyDTO `json:"story"`
	Asset  assetDTO `json:"asset"`
	Reused bool     `json:"reused"`
	Error  string   `json:"error"`
}

func postStory(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStoryIsReusedUnlessForced(t *testing.T) {
	s := newTestServer(t, true)
	assets := s.uploadThree(t, "/api/uploads")
	target := "/api/uploads/" + assets[0].ID + "/story"

	first := decode[storyBody](t, s.do(t, postStory(target, "")))
	if first.Story.Status != manifest.StatusReady || first.Story.Text == "" {
		t.Fatalf("first story = %+v", first.Story)
	}
	if first.Reused {
		t.Fatalf("first call reported reuse")
	}

	second := decode[storyBody](t, s.do(t, postStory(target, `{}`)))
	if !second.Reused || second.Story.Text != first.Story.Text {
		t.Fatalf("second story = %+v reused=%v", second.Story, second.Reused)
	}
	if got := s.gen.calls.Load(); got != 1 {
		t.Fatalf("generator calls = %d, want 1", got)
	}

	forced := decode[storyBody](t, s.do(t, postStory(target, `{"force":true,"context":"sunset swim"}`)))
	if forced.Reused || forced.Story.Text == first.Story.Text {
		t.Fatalf("forced story = %+v", forced.Story)
	}
	if forced.Asset.Context != "sunset swim" {
		t.Fatalf("context override = %q", forced.Asset.Context)
	}
}

func TestStoryErrors(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		s := newTestServer(t, false)
		assets := s.uploadThree(t, "/api/uploads")
		rec := s.do(t, postStory("/api/uploads/"+assets[0].ID+"/story", ""))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", rec.Code)
		}
	})
	t.Run("unknown asset", func(t *testing.T) {
		s := newTestServer(t, true)
		rec := s.do(t, postStory("/api/uploads/nope/story", ""))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		s := newTestServer(t, true)
		assets := s.uploadThree(t, "/api/uploads")
		path, err := s.images.Path(assets[0].Filename)
		if err != nil {
			t.Fatalf("path: %v", err)
		}
		if err := os.Remove(path); err != nil {
			t.Fatalf("remove: %v", err)
		}
		rec := s.do(t, postStory("/api/uploads/"+assets[0].ID+"/story", ""))
		if rec.Code != http.StatusGone {
			t.Fatalf("status = %d", rec.Code)
		}
		got, err := s.assets.Get(assets[0].ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Story.Status != manifest.StatusPending {
			t.Fatalf("status after missing file = %q", got.Story.Status)
		}
	})
	t.Run("bad json", func(t *testing.T) {
		s := newTestServer(t, true)
		assets := s.uploadThree(t, "/api/uploads")
		rec := s.do(t, postStory("/api/uploads/"+assets[0].ID+"/story", "{"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestTunnelCommitVersionsURLs(t *testing.T) {
	s := newTestServer(t, true)

	start := decode[map[string]string](t, s.do(t, httptest.NewRequest(http.MethodPost, "/api/tunnels/start", nil)))
	tunnelID := start["tunnelId"]
	if tunnelID == "" {
		t.Fatalf("no tunnel id")
	}

	s.uploadThree(t, "/api/uploads")
	tracked := s.uploadThree(t, "/api/uploads?tunnelId="+tunnelID)

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/tunnels/"+tunnelID+"/commit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("commit = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		TunnelID string     `json:"tunnelId"`
		Assets   []assetDTO `json:"assets"`
	}](t, rec)
	if body.TunnelID != tunnelID || len(body.Assets) != len(tracked) {
		t.Fatalf("commit body = %+v", body)
	}
	for i, a := range body.Assets {
		if a.ID != tracked[i].ID {
			t.Fatalf("asset %d = %s, want %s", i, a.ID, tracked[i].ID)
		}
		if !strings.HasSuffix(a.URL, "?v="+tunnelID) {
			t.Fatalf("url = %q", a.URL)
		}
	}

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/tunnels/missing/commit", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tunnel commit = %d", rec.Code)
	}
}

func TestLegacyStory(t *testing.T) {
	s := newTestServer(t, true)
	rec := s.do(t, postStory("/api/story", `{"memories":[{"id":"1","context":"first day"},{"id":"2","context":" "}]}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]string](t, rec)["story"]; got != "summary" {
		t.Fatalf("story = %q", got)
	}

	rec = s.do(t, postStory("/api/story", `{"memories":[]}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty memories = %d", rec.Code)
	}

	rec = s.do(t, postStory("/api/narrate", `{"memories":[{"context":"x"}]}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("narrate without tts = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestContextFor(t *testing.T) {
	cases := []struct {
		contexts []string
		i        int
		filename string
		want     string
	}{
		{[]string{"beach"}, 0, "a.jpg", "beach"},
		{[]string{"beach", "  "}, 1, "IMG_1.heic", "Memory 2 (IMG_1)"},
		{nil, 2, "", "Memory 3"},
	}
	for _, tc := range cases {
		if got := contextFor(tc.contexts, tc.i, tc.filename); got != tc.want {
			t.Fatalf("contextFor(%v, %d, %q) = %q, want %q", tc.contexts, tc.i, tc.filename, got, tc.want)
		}
	}
}
