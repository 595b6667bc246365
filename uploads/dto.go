package uploads

import (
	"net/url"
	"strings"

	"delorean_back/manifest"
	"delorean_back/tunnel"
	"github.com/gin-gonic/gin"
)

type storyDTO struct {
	manifest.StoryState
	AudioURL string `json:"audioUrl,omitempty"`
}

type assetDTO struct {
	manifest.AssetRecord
	Story    storyDTO `json:"story"`
	URL      string   `json:"url"`
	AudioURL string   `json:"audioUrl,omitempty"`
}

// toDTO decorates a record with absolute URLs. A non-empty version is
// appended as the cache-busting v parameter.
func (m *Module) toDTO(c *gin.Context, rec manifest.AssetRecord, version string) assetDTO {
	base := m.baseURL(c)
	dto := assetDTO{
		AssetRecord: rec,
		Story:       storyDTO{StoryState: rec.Story},
		URL:         tunnel.VersionURL(base+m.images.PublicPath(rec.Filename), version),
	}
	if rec.Story.AudioFile != "" && m.audio != nil {
		audio := tunnel.VersionURL(base+m.audio.PublicPath(rec.Story.AudioFile), version)
		dto.AudioURL = audio
		dto.Story.AudioURL = audio
	}
	return dto
}

func (m *Module) toDTOs(c *gin.Context, records []manifest.AssetRecord, version string) []assetDTO {
	out := make([]assetDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, m.toDTO(c, rec, version))
	}
	return out
}

// baseURL is PUBLIC_BASE_URL or the scheme and host the request came in on.
func (m *Module) baseURL(c *gin.Context) string {
	if m.publicBaseURL != "" {
		return m.publicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.Split(proto, ",")[0])
	}
	host := c.Request.Host
	if fwd := strings.TrimSpace(c.GetHeader("X-Forwarded-Host")); fwd != "" {
		host = strings.Split(fwd, ",")[0]
	}
	u := url.URL{Scheme: scheme, Host: strings.TrimSpace(host)}
	return u.String()
}
