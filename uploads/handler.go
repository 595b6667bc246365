package uploads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"delorean_back/logger"
	"delorean_back/manifest"
	"delorean_back/photo"
	"delorean_back/storage"
	"delorean_back/story"
	"delorean_back/tunnel"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	MaxFiles    = 20
	MaxFileSize = 10 << 20
)

// Options carries the collaborators of the upload API.
type Options struct {
	Assets        *manifest.Store
	Images        *storage.ContentStore
	Audio         *storage.ContentStore
	Normalizer    *photo.Normalizer
	Stories       *story.Service
	Sessions      tunnel.SessionStore
	PublicBaseURL string
	Logger        *logger.Logger
}

type Module struct {
	assets        *manifest.Store
	images        *storage.ContentStore
	audio         *storage.ContentStore
	normalizer    *photo.Normalizer
	stories       *story.Service
	sessions      tunnel.SessionStore
	publicBaseURL string
	log           *logger.Logger
}

// RegisterRoutes mounts the upload, story and tunnel endpoints plus static
// serving of stored images and narration audio.
func RegisterRoutes(router *gin.Engine, opts Options) (*Module, error) {
	if opts.Assets == nil || opts.Images == nil {
		return nil, errors.New("uploads: manifest and image storage are required")
	}
	if opts.Normalizer == nil {
		opts.Normalizer = photo.NewNormalizer()
	}
	if opts.Sessions == nil {
		opts.Sessions = tunnel.NewMemorySessionStore(0)
	}
	if opts.Stories == nil {
		opts.Stories = story.NewService(nil, opts.Assets, opts.Images, nil, opts.Logger)
	}

	module := &Module{
		assets:        opts.Assets,
		images:        opts.Images,
		audio:         opts.Audio,
		normalizer:    opts.Normalizer,
		stories:       opts.Stories,
		sessions:      opts.Sessions,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		log:           opts.Logger.With("module", "uploads"),
	}

	router.GET("/health", module.handleHealth)

	api := router.Group("/api")
	api.POST("/uploads", module.handleUpload)
	api.GET("/uploads", module.handleList)
	api.DELETE("/uploads/:id", module.handleDelete)
	api.POST("/uploads/:id/story", module.handleStory)
	api.POST("/tunnels/start", module.handleTunnelStart)
	api.POST("/tunnels/:id/commit", module.handleTunnelCommit)
	api.POST("/story", module.handleLegacyStory)
	api.POST("/narrate", module.handleLegacyNarrate)

	router.Static(opts.Images.URLPrefix(), opts.Images.BaseDir())
	if opts.Audio != nil {
		router.Static(opts.Audio.URLPrefix(), opts.Audio.BaseDir())
	}

	return module, nil
}

func (m *Module) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"story":     m.stories.Enabled(),
		"narration": m.stories.NarrationEnabled(),
	})
}

func (m *Module) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFiles*MaxFileSize+(1<<20))

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form with images"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images uploaded"})
		return
	}
	if len(files) > MaxFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("too many images: at most %d per upload", MaxFiles)})
		return
	}

	contexts, err := parseContexts(form.Value["contexts"])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]photo.Input, len(files))
	for i, fh := range files {
		input, err := readUpload(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inputs[i] = input
	}

	results, err := m.normalizer.NormalizeBatch(c.Request.Context(), inputs)
	if err != nil {
		m.log.Warn("normalize upload failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records := make([]manifest.AssetRecord, len(results))
	saved := make([]string, 0, len(results))
	for i, res := range results {
		name := storage.NewFilename(photo.CanonicalExt)
		if _, err := m.images.Save(name, res.Data); err != nil {
			m.discard(saved)
			m.log.Error("store image failed", "filename", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
			return
		}
		saved = append(saved, name)
		records[i] = manifest.AssetRecord{
			ID:               uuid.NewString(),
			Filename:         name,
			OriginalName:     inputs[i].Filename,
			OriginalMimeType: inputs[i].MimeType,
			MimeType:         res.MimeType,
			Size:             int64(len(res.Data)),
			Width:            res.Width,
			Height:           res.Height,
			Context:          contextFor(contexts, i, inputs[i].Filename),
		}
	}

	stored, err := m.assets.AppendAll(records)
	if err != nil {
		m.discard(saved)
		m.log.Error("append manifest failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record uploads"})
		return
	}

	if tunnelID := tunnelIDFrom(c); tunnelID != "" {
		ids := make([]string, len(stored))
		for i, rec := range stored {
			ids[i] = rec.ID
		}
		m.track(c, tunnelID, ids...)
	}

	m.log.Info("stored uploads", "count", len(stored))
	c.JSON(http.StatusCreated, gin.H{"assets": m.toDTOs(c, stored, "")})
}

func (m *Module) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": m.toDTOs(c, m.assets.List(), "")})
}

func (m *Module) handleDelete(c *gin.Context) {
	removed, err := m.assets.Remove(c.Param("id"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	if removed.Story.AudioFile != "" && m.audio != nil {
		if err := m.audio.Remove(removed.Story.AudioFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("remove narration failed", "asset_id", removed.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"removed": m.toDTO(c, removed, "")})
}

type storyRequest struct {
	Context *string `json:"context"`
	Force   bool    `json:"force"`
	Narrate bool    `json:"narrate"`
}

func (m *Module) handleStory(c *gin.Context) {
	var req storyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	id := c.Param("id")
	tunnelID := tunnelIDFrom(c)
	outcome, err := m.stories.Generate(c.Request.Context(), id, story.Options{
		Context:  req.Context,
		Force:    req.Force,
		TunnelID: tunnelID,
		Narrate:  req.Narrate,
	})
	if err != nil {
		if outcome.Asset.ID != "" {
			// the failure is recorded on the asset, hand it back with the error
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "story": m.toDTO(c, outcome.Asset, "").Story})
			return
		}
		m.respondError(c, err)
		return
	}
	if tunnelID != "" {
		m.track(c, tunnelID, outcome.Asset.ID)
	}

	dto := m.toDTO(c, outcome.Asset, "")
	c.JSON(http.StatusOK, gin.H{
		"story":  dto.Story,
		"asset":  dto,
		"reused": outcome.Reused,
	})
}

func (m *Module) handleTunnelStart(c *gin.Context) {
	sess, err := m.sessions.Start(c.Request.Context())
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tunnelId": sess.ID})
}

// handleTunnelCommit returns the session's assets in manifest order with
// v=<tunnelId> appended to every URL.
func (m *Module) handleTunnelCommit(c *gin.Context) {
	sess, err := m.sessions.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	tracked := make(map[string]struct{}, len(sess.AssetIDs))
	for _, id := range sess.AssetIDs {
		tracked[id] = struct{}{}
	}
	records := make([]manifest.AssetRecord, 0, len(sess.AssetIDs))
	for _, rec := range m.assets.List() {
		if _, ok := tracked[rec.ID]; ok {
			records = append(records, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tunnelId": sess.ID,
		"assets":   m.toDTOs(c, records, sess.ID),
	})
}

type legacyMemory struct {
	ID      string `json:"id"`
	Context string `json:"context"`
}

type legacyRequest struct {
	Memories []legacyMemory `json:"memories"`
}

func (m *Module) bindMemories(c *gin.Context) ([]string, bool) {
	var req legacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return nil, false
	}
	contexts := make([]string, 0, len(req.Memories))
	for _, mem := range req.Memories {
		if text := strings.TrimSpace(mem.Context); text != "" {
			contexts = append(contexts, text)
		}
	}
	if len(contexts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "memories must include at least one context"})
		return nil, false
	}
	return contexts, true
}

func (m *Module) handleLegacyStory(c *gin.Context) {
	contexts, ok := m.bindMemories(c)
	if !ok {
		return
	}
	text, err := m.stories.Summarize(c.Request.Context(), contexts)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": text})
}

func (m *Module) handleLegacyNarrate(c *gin.Context) {
	contexts, ok := m.bindMemories(c)
	if !ok {
		return
	}
	if !m.stories.NarrationEnabled() || m.audio == nil {
		m.respondError(c, story.ErrProviderUnavailable)
		return
	}
	text, err := m.stories.Summarize(c.Request.Context(), contexts)
	if err != nil {
		m.respondError(c, err)
		return
	}
	file, err := m.stories.Narrate(c.Request.Context(), text, uuid.NewString())
	if err != nil {
		m.respondError(c, fmt.Errorf("%w: %v", story.ErrProviderError, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": text, "audio": m.audio.PublicPath(file)})
}

func (m *Module) track(c *gin.Context, tunnelID string, assetIDs ...string) {
	if err := m.sessions.Track(c.Request.Context(), tunnelID, assetIDs...); err != nil {
		m.log.Warn("track tunnel assets failed", "tunnel_id", tunnelID, "error", err)
	}
}

func (m *Module) discard(names []string) {
	for _, name := range names {
		if err := m.images.Remove(name); err != nil {
			m.log.Warn("discard image failed", "filename", name, "error", err)
		}
	}
}

func tunnelIDFrom(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("tunnelId")); id != "" {
		return id
	}
	return strings.TrimSpace(c.PostForm("tunnelId"))
}

func readUpload(fh *multipart.FileHeader) (photo.Input, error) {
	if fh.Size > MaxFileSize {
		return photo.Input{}, fmt.Errorf("%s is larger than %d MB", fh.Filename, MaxFileSize>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return photo.Input{}, fmt.Errorf("cannot read %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return photo.Input{}, fmt.Errorf("cannot read %s", fh.Filename)
	}
	if len(data) > MaxFileSize {
		return photo.Input{}, fmt.Errorf("%s is larger than %d MB", fh.Filename, MaxFileSize>>20)
	}
	declared := fh.Header.Get("Content-Type")
	head := data
	if len(head) > 3072 {
		head = head[:3072]
	}
	if !photo.Allowed(declared, fh.Filename, head) {
		return photo.Input{}, fmt.Errorf("unsupported file type for %s", fh.Filename)
	}
	return photo.Input{Data: data, MimeType: declared, Filename: fh.Filename}, nil
}

// parseContexts accepts a single JSON array of strings or repeated plain
// form values.
func parseContexts(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) == 1 {
		raw := strings.TrimSpace(values[0])
		if raw == "" {
			return nil, nil
		}
		if strings.HasPrefix(raw, "[") {
			var out []string
			if err := json.Unmarshal([]byte(raw), &out); err != nil {
				return nil, errors.New("contexts must be a JSON array of strings")
			}
			return out, nil
		}
	}
	return values, nil
}

// contextFor returns the explicit context for position i or a placeholder
// like "Memory 2 (IMG_0042)".
func contextFor(contexts []string, i int, filename string) string {
	if i < len(contexts) {
		if text := strings.TrimSpace(contexts[i]); text != "" {
			return text
		}
	}
	label := fmt.Sprintf("Memory %d", i+1)
	stem := strings.TrimSpace(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	if stem == "" || stem == "." {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, stem)
}
