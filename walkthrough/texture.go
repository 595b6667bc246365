package walkthrough

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"time"

	"delorean_back/logger"
	"github.com/fogleman/gg"
	"go.uber.org/atomic"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"
)

const (
	placeholderSize = 256
	maxTextureSize  = 1024
	maxFetchBytes   = 32 << 20
)

var placeholderHues = []float64{190, 320, 60, 120, 260}

// PlaceholderTexture draws the "#NN" gradient card used for slots without an
// image or whose image failed to load.
func PlaceholderTexture(index int) image.Image {
	const size = placeholderSize
	dc := gg.NewContext(size, size)

	hue := placeholderHues[index%len(placeholderHues)]
	grad := gg.NewLinearGradient(0, 0, size, size)
	grad.AddColorStop(0, hsl(hue, 0.7, 0.6))
	grad.AddColorStop(1, hsl(math.Mod(hue+40, 360), 0.7, 0.45))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, size, size)
	dc.Fill()

	dc.SetRGBA(1, 1, 1, 0.15)
	dc.DrawRectangle(30, 40, size-60, size-80)
	dc.Fill()

	dc.SetRGBA(0, 0, 0, 0.18)
	dc.SetFontFace(basicfont.Face7x13)
	dc.Push()
	dc.ScaleAbout(4, 4, size/2, size/2)
	dc.DrawStringAnchored(fmt.Sprintf("#%02d", index+1), size/2, size/2, 0.5, 0.5)
	dc.Pop()

	return dc.Image()
}

func hsl(h, s, l float64) color.NRGBA {
	c := (1 - math.Abs(2*l-1)) * s
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := l - c/2
	to8 := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return color.NRGBA{R: to8(r), G: to8(g), B: to8(b), A: 255}
}

// Fetcher retrieves raw bytes for a texture or environment URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("walkthrough: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
}

// TextureResult is a finished load for one panel.
type TextureResult struct {
	Panel int
	Image image.Image
	Err   error
}

// TextureLoader decodes panel images off the frame loop. Finished loads wait
// in a buffer until the loop drains them.
type TextureLoader struct {
	fetcher Fetcher
	sem     *semaphore.Weighted
	results chan TextureResult
	pending atomic.Int64
	log     *logger.Logger
}

// NewTextureLoader allows parallel concurrent fetches and buffers up to
// capacity unread results.
func NewTextureLoader(fetcher Fetcher, parallel, capacity int, log *logger.Logger) *TextureLoader {
	if parallel < 1 {
		parallel = 4
	}
	if capacity < 1 {
		capacity = 1
	}
	return &TextureLoader{
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(parallel)),
		results: make(chan TextureResult, capacity),
		log:     log.With("module", "textures"),
	}
}

// Load starts fetching url for the panel at index and returns immediately.
func (l *TextureLoader) Load(ctx context.Context, index int, url string) {
	l.pending.Inc()
	go func() {
		defer l.pending.Dec()
		res := TextureResult{Panel: index}
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return
		}
		res.Image, res.Err = l.fetch(ctx, url)
		l.sem.Release(1)

		select {
		case l.results <- res:
		case <-ctx.Done():
		}
	}()
}

func (l *TextureLoader) fetch(ctx context.Context, url string) (image.Image, error) {
	data, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("walkthrough: decode %s: %w", url, err)
	}
	return fitTexture(img), nil
}

// Drain returns every finished load without blocking.
func (l *TextureLoader) Drain() []TextureResult {
	var out []TextureResult
	for {
		select {
		case res := <-l.results:
			out = append(out, res)
		default:
			return out
		}
	}
}

// Pending is the number of loads not yet handed to the results buffer.
func (l *TextureLoader) Pending() int64 {
	return l.pending.Load()
}

func fitTexture(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxTextureSize && h <= maxTextureSize {
		return img
	}
	scale := float64(maxTextureSize) / float64(max(w, h))
	dst := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
