package uploads

import (
	"context"
	"errors"
	"net/http"

	"delorean_back/manifest"
	"delorean_back/photo"
	"delorean_back/story"
	"delorean_back/tunnel"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, manifest.ErrNotFound), errors.Is(err, tunnel.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, story.ErrAssetMissing):
		return http.StatusGone
	case errors.Is(err, story.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, story.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, photo.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (m *Module) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = "asset not found"
		if errors.Is(err, tunnel.ErrSessionNotFound) {
			msg = "tunnel session not found"
		}
	case http.StatusServiceUnavailable:
		msg = "story provider is not configured"
	case http.StatusInternalServerError:
		kv := []interface{}{"path", c.FullPath(), "error", err}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			kv = append(kv, "trace_id", sc.TraceID().String())
		}
		m.log.Error("request failed", kv...)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
