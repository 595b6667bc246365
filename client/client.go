package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"delorean_back/logger"
	"delorean_back/manifest"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

const (
	defaultServerURL     = "http://localhost:4000"
	defaultStoryParallel = 4
	deleteTimeout        = 15 * time.Second
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Asset is an asset as the server returns it.
type Asset struct {
	manifest.AssetRecord
	URL      string `json:"url"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// File is one photo to upload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ReadFile loads a photo from disk and sniffs its type.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("client: read %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), MimeType: mimetype.Detect(data).String(), Data: data}, nil
}

type StoryOptions struct {
	Context  *string
	Force    bool
	Narrate  bool
	TunnelID string
}

type StoryResult struct {
	Story  manifest.StoryState
	Asset  Asset
	Reused bool
}

// Walkthrough is a committed tunnel session ready to be bound to slots.
type Walkthrough struct {
	TunnelID string  `json:"tunnelId"`
	Assets   []Asset `json:"assets"`
}

type Client struct {
	baseURL       string
	httpClient    *http.Client
	storyParallel int
	log           *logger.Logger
	pending       sync.WaitGroup
}

func NewClient(baseURL string, httpClient *http.Client, log *logger.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		storyParallel: defaultStoryParallel,
		log:           log.With("module", "client"),
	}
}

// NewClientFromEnv uses DELOREAN_SERVER_URL.
func NewClientFromEnv(log *logger.Logger) *Client {
	return NewClient(os.Getenv("DELOREAN_SERVER_URL"), nil, log)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetStoryParallelism bounds concurrent story requests in GenerateStories.
// Values below one mean unbounded.
func (c *Client) SetStoryParallelism(n int) {
	c.storyParallel = n
}

// Upload sends files with their parallel contexts. A non-empty tunnelID
// tracks the new assets on that session.
func (c *Client) Upload(ctx context.Context, files []File, contexts []string, tunnelID string) ([]Asset, error) {
	if len(files) == 0 {
		return nil, errors.New("client: no files to upload")
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, f.Name))
		h.Set("Content-Type", firstNonEmpty(f.MimeType, "application/octet-stream"))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
	}
	if len(contexts) > 0 {
		raw, err := json.Marshal(contexts)
		if err != nil {
			return nil, fmt.Errorf("client: encode contexts: %w", err)
		}
		if err := w.WriteField("contexts", string(raw)); err != nil {
			return nil, fmt.Errorf("client: build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}

	var out struct {
		Assets []Asset `json:"assets"`
	}
	path := "/api/uploads" + tunnelQuery(tunnelID)
	if err := c.do(ctx, http.MethodPost, path, w.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *Client) List(ctx context.Context) ([]Asset, error) {
	var out struct {
		Assets []Asset `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/uploads", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

// Delete removes an asset in the background. The caller has already dropped
// it from its own state; failures are only logged.
func (c *Client) Delete(id string) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := c.DeleteNow(ctx, id); err != nil {
			c.log.Warn("background delete failed", "asset_id", id, "error", err)
		}
	}()
}

// DeleteNow removes an asset and waits for the answer.
func (c *Client) DeleteNow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/uploads/"+url.PathEscape(id), "", nil, nil)
}

// Wait blocks until background deletes have finished.
func (c *Client) Wait() {
	c.pending.Wait()
}

type storyPayload struct {
	Context *string `json:"context,omitempty"`
	Force   bool    `json:"force,omitempty"`
	Narrate bool    `json:"narrate,omitempty"`
}

func (c *Client) GenerateStory(ctx context.Context, id string, opts StoryOptions) (StoryResult, error) {
	raw, err := json.Marshal(storyPayload{Context: opts.Context, Force: opts.Force, Narrate: opts.Narrate})
	if err != nil {
		return StoryResult{}, fmt.Errorf("client: encode story request: %w", err)
	}
	var wire struct {
		Story  manifest.StoryState `json:"story"`
		Asset  Asset               `json:"asset"`
		Reused bool                `json:"reused"`
	}
	path := "/api/uploads/" + url.PathEscape(id) + "/story" + tunnelQuery(opts.TunnelID)
	if err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(raw), &wire); err != nil {
		return StoryResult{}, err
	}
	return StoryResult{Story: wire.Story, Asset: wire.Asset, Reused: wire.Reused}, nil
}

// GenerateStories requests every story in parallel and waits for all of them
// to settle. Any failure fails the batch; stories that did succeed stay
// recorded on the server.
func (c *Client) GenerateStories(ctx context.Context, ids []string, opts StoryOptions) ([]StoryResult, error) {
	results := make([]StoryResult, len(ids))
	var g errgroup.Group
	if c.storyParallel > 0 {
		g.SetLimit(c.storyParallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			res, err := c.GenerateStory(ctx, id, opts)
			if err != nil {
				return fmt.Errorf("client: story for %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) StartTunnel(ctx context.Context) (string, error) {
	var out struct {
		TunnelID string `json:"tunnelId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tunnels/start", "", nil, &out); err != nil {
		return "", err
	}
	if out.TunnelID == "" {
		return "", errors.New("client: server returned no tunnel id")
	}
	return out.TunnelID, nil
}

func (c *Client) CommitTunnel(ctx context.Context, tunnelID string) (Walkthrough, error) {
	var out Walkthrough
	if err := c.do(ctx, http.MethodPost, "/api/tunnels/"+url.PathEscape(tunnelID)+"/commit", "", nil, &out); err != nil {
		return Walkthrough{}, err
	}
	return out, nil
}

// CreateWalkthrough runs the whole flow: start a tunnel, upload, generate
// every story, then commit.
func (c *Client) CreateWalkthrough(ctx context.Context, files []File, contexts []string, narrate bool) (Walkthrough, error) {
	tunnelID, err := c.StartTunnel(ctx)
	if err != nil {
		return Walkthrough{}, err
	}
	assets, err := c.Upload(ctx, files, contexts, tunnelID)
	if err != nil {
		return Walkthrough{}, err
	}
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	c.log.Info("uploaded photos", "tunnel_id", tunnelID, "count", len(ids))

	if _, err := c.GenerateStories(ctx, ids, StoryOptions{TunnelID: tunnelID, Narrate: narrate}); err != nil {
		return Walkthrough{}, err
	}
	return c.CommitTunnel(ctx, tunnelID)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: firstNonEmpty(apiErr.Error, strings.TrimSpace(string(payload)))}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func tunnelQuery(tunnelID string) string {
	tunnelID = strings.TrimSpace(tunnelID)
	if tunnelID == "" {
		return ""
	}
	return "?tunnelId=" + url.QueryEscape(tunnelID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
