package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/heic"
	"github.com/gen2brain/webp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/webp"
)

const (
	// CanonicalMimeType is the stored format of every normalized photo.
	CanonicalMimeType = "image/webp"
	CanonicalExt      = ".webp"

	defaultMaxDimension = 2560
	defaultQuality      = 82
)

var ErrUnsupported = errors.New("photo: unsupported image data")

// Input is one raw upload.
type Input struct {
	Data     []byte
	MimeType string
	Filename string
}

// Result is the re-encoded image.
type Result struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// BatchError reports the file that aborted a batch.
type BatchError struct {
	Index    int
	Filename string
	Err      error
}

func (e *BatchError) Error() string {
	name := e.Filename
	if name == "" {
		name = "#" + strconv.Itoa(e.Index+1)
	}
	return fmt.Sprintf("photo: normalize %s: %v", name, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Normalizer converts uploads into orientation-corrected WebP.
type Normalizer struct {
	MaxDimension int
	Quality      int
	Workers      int
}

func NewNormalizer() *Normalizer {
	return &Normalizer{MaxDimension: defaultMaxDimension, Quality: defaultQuality}
}

// NewNormalizerFromEnv reads PHOTO_MAX_DIMENSION and PHOTO_QUALITY.
func NewNormalizerFromEnv() *Normalizer {
	n := NewNormalizer()
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("PHOTO_MAX_DIMENSION"))); err == nil && v > 0 {
		n.MaxDimension = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("PHOTO_QUALITY"))); err == nil && v > 0 && v <= 100 {
		n.Quality = v
	}
	return n
}

// Normalize re-encodes a single upload. HEIC/HEIF input that the direct path
// cannot handle is converted to an intermediate JPEG and retried once.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (Result, error) {
	ctx, span := otel.Tracer("delorean_back/photo").Start(ctx, "photo.Normalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("photo.filename", in.Filename),
		attribute.Int("photo.bytes", len(in.Data)),
	)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(in.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty file", ErrUnsupported)
	}

	detected := mimetype.Detect(in.Data)
	heicLike := LooksHEIC(in.MimeType, in.Filename) || LooksHEIC(detected.String(), "")
	if !isImageMime(detected.String()) && !heicLike {
		return Result{}, fmt.Errorf("%w: detected %s", ErrUnsupported, detected.String())
	}

	res, err := n.encode(in.Data)
	if err == nil {
		return res, nil
	}
	if !heicLike {
		return Result{}, fmt.Errorf("photo: re-encode: %w", err)
	}

	intermediate, convErr := heicToJPEG(in.Data)
	if convErr != nil {
		return Result{}, fmt.Errorf("photo: heic conversion: %w", convErr)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res, err = n.encode(intermediate)
	if err != nil {
		return Result{}, fmt.Errorf("photo: re-encode converted heic: %w", err)
	}
	return res, nil
}

// NormalizeBatch normalizes every input concurrently and returns results in
// input order. The first failure aborts the batch.
func (n *Normalizer) NormalizeBatch(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers())
	for i := range inputs {
		i := i
		g.Go(func() error {
			res, err := n.Normalize(gctx, inputs[i])
			if err != nil {
				return &BatchError{Index: i, Filename: inputs[i].Filename, Err: err}
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

func (n *Normalizer) workers() int {
	if n.Workers > 0 {
		return n.Workers
	}
	w := runtime.NumCPU()
	if w > 4 {
		w = 4
	}
	return w
}

func (n *Normalizer) encode(data []byte) (Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, err
	}
	img = n.bound(img)

	quality := n.Quality
	if quality <= 0 {
		quality = defaultQuality
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality}); err != nil {
		return Result{}, fmt.Errorf("encode webp: %w", err)
	}
	b := img.Bounds()
	return Result{
		Data:     buf.Bytes(),
		MimeType: CanonicalMimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// bound scales img down so its long edge is at most MaxDimension.
func (n *Normalizer) bound(img image.Image) image.Image {
	limit := n.MaxDimension
	if limit <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= limit {
		return img
	}
	scale := float64(limit) / float64(long)
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func heicToJPEG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LooksHEIC reports whether a MIME type or file name indicates HEIC/HEIF.
func LooksHEIC(mimeType, filename string) bool {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(m, "image/heic") || strings.HasPrefix(m, "image/heif") {
		return true
	}
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(filename))) {
	case ".heic", ".heif":
		return true
	}
	return false
}

func isImageMime(m string) bool {
	return strings.HasPrefix(strings.ToLower(m), "image/")
}
