package tts

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type Module struct {
	client *Client
}

// RegisterRoutes mounts the voice catalog and a preview endpoint under /api/tts.
func RegisterRoutes(router *gin.Engine, client *Client) (*Module, error) {
	if client == nil {
		return nil, errors.New("tts: client is required")
	}
	module := &Module{client: client}

	group := router.Group("/api/tts")
	group.GET("/voices", module.handleVoices)
	group.POST("/preview", module.handlePreview)

	return module, nil
}

func (m *Module) Enabled() bool {
	return m != nil && m.client != nil && m.client.Enabled()
}

func (m *Module) handleVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":          m.Enabled(),
		"default_voice":    m.client.DefaultVoiceID(),
		"default_provider": m.client.DefaultProviderID(),
		"providers":        m.client.Providers(),
		"voices":           m.client.Voices(),
	})
}

type previewRequest struct {
	Text     string   `json:"text" binding:"required"`
	VoiceID  string   `json:"voice_id"`
	Provider string   `json:"provider"`
	Speed    *float64 `json:"speed"`
}

func (m *Module) handlePreview(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "text-to-speech is disabled"})
		return
	}

	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	speechReq := SpeechRequest{
		Text:     req.Text,
		VoiceID:  strings.TrimSpace(req.VoiceID),
		Provider: strings.TrimSpace(req.Provider),
	}
	if req.Speed != nil && *req.Speed > 0 {
		speechReq.Speed = *req.Speed
	}

	result, err := m.client.Synthesize(c.Request.Context(), speechReq)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, result.MimeType, result.Audio)
}
