package client

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"delorean_back/llm"
	"delorean_back/logger"
	"delorean_back/manifest"
	"delorean_back/storage"
	"delorean_back/story"
	"delorean_back/tunnel"
	"delorean_back/uploads"
	"github.com/gin-gonic/gin"
)

type echoGenerator struct{}

func (echoGenerator) Provider() string { return "echo" }

func (echoGenerator) GenerateWithImage(ctx context.Context, req llm.VisionRequest) (llm.Response, error) {
	return llm.Response{Text: "once upon a time"}, nil
}

func (echoGenerator) GenerateText(ctx context.Context, prompt string) (llm.Response, error) {
	return llm.Response{Text: "summary"}, nil
}

func newServer(t *testing.T) (*httptest.Server, *manifest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	images, err := storage.NewContentStore(filepath.Join(root, "uploads"), "/uploads")
	if err != nil {
		t.Fatalf("image store: %v", err)
	}
	assets, err := manifest.Open(filepath.Join(root, "manifest.json"), images, logger.Nop())
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	router := gin.New()
	if _, err := uploads.RegisterRoutes(router, uploads.Options{
		Assets:   assets,
		Images:   images,
		Stories:  story.NewService(echoGenerator{}, assets, images, nil, logger.Nop()),
		Sessions: tunnel.NewMemorySessionStore(0),
		Logger:   logger.Nop(),
	}); err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, assets
}

func photo(t *testing.T, name string) File {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return File{Name: name, MimeType: "image/png", Data: buf.Bytes()}
}

func TestCreateWalkthrough(t *testing.T) {
	srv, assets := newServer(t)
	c := NewClient(srv.URL, srv.Client(), logger.Nop())

	// an asset outside the tunnel must not show up in the commit
	if _, err := c.Upload(context.Background(), []File{photo(t, "other.png")}, nil, ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	walk, err := c.CreateWalkthrough(context.Background(),
		[]File{photo(t, "a.png"), photo(t, "b.png"), photo(t, "c.png")},
		[]string{"beach", "", "graduation"}, false)
	if err != nil {
		t.Fatalf("CreateWalkthrough: %v", err)
	}
	if walk.TunnelID == "" || len(walk.Assets) != 3 {
		t.Fatalf("walkthrough = %+v", walk)
	}
	for i, a := range walk.Assets {
		if a.Story.Status != manifest.StatusReady {
			t.Fatalf("asset %d status = %q", i, a.Story.Status)
		}
		if !strings.Contains(a.URL, "v="+walk.TunnelID) {
			t.Fatalf("asset %d url = %q", i, a.URL)
		}
		if i > 0 && a.Order <= walk.Assets[i-1].Order {
			t.Fatalf("assets out of order")
		}
	}
	if got := len(assets.List()); got != 4 {
		t.Fatalf("manifest size = %d, want 4", got)
	}
}

func TestDeleteIsFireAndForget(t *testing.T) {
	srv, assets := newServer(t)
	c := NewClient(srv.URL, srv.Client(), logger.Nop())

	uploaded, err := c.Upload(context.Background(), []File{photo(t, "a.png")}, []string{"x"}, "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	c.Delete(uploaded[0].ID)
	c.Delete("does-not-exist")
	c.Wait()

	if got := len(assets.List()); got != 0 {
		t.Fatalf("manifest size = %d after delete", got)
	}
	if err := c.DeleteNow(context.Background(), uploaded[0].ID); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("second delete err = %v, want 404", err)
	}
}

func TestGenerateStoriesFailsWhenAnyFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var mu sync.Mutex
	seen := map[string]bool{}
	router := gin.New()
	router.POST("/api/uploads/:id/story", func(c *gin.Context) {
		mu.Lock()
		seen[c.Param("id")] = true
		mu.Unlock()
		if c.Param("id") == "bad" {
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"story": gin.H{"status": "ready", "text": "ok"}})
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), logger.Nop())
	_, err := c.GenerateStories(context.Background(), []string{"a", "bad", "c"}, StoryOptions{})
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("err = %v, want 502", err)
	}
	mu.Lock()
	for _, id := range []string{"a", "bad", "c"} {
		if !seen[id] {
			mu.Unlock()
			t.Fatalf("story for %s was never requested", id)
		}
	}
	mu.Unlock()

	results, err := c.GenerateStories(context.Background(), []string{"a", "c"}, StoryOptions{})
	if err != nil {
		t.Fatalf("GenerateStories: %v", err)
	}
	if len(results) != 2 || results[1].Story.Text != "ok" {
		t.Fatalf("results = %+v", results)
	}
}

func TestCommitUnknownTunnel(t *testing.T) {
	srv, _ := newServer(t)
	c := NewClient(srv.URL, srv.Client(), logger.Nop())
	if _, err := c.CommitTunnel(context.Background(), "missing"); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("err = %v, want 404", err)
	}
}
