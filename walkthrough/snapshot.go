package walkthrough

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"
)

var ErrNoFrame = errors.New("walkthrough: no frame presented yet")

const (
	snapshotHalfWidth = 8.0
	panelThickness    = 0.6
)

type snapshotPanel struct {
	index    int
	position mgl64.Vec3
	yaw      float64
	width    float64
	texture  image.Image
}

type snapshot struct {
	index      int64
	camera     Camera
	background uint32
	path       Plane
	edge       Plane
	panels     []snapshotPanel
}

// SnapshotSurface keeps the latest frame and draws it as a top-down map.
type SnapshotSurface struct {
	Width  int
	Height int

	mu   sync.Mutex
	last *snapshot
}

func NewSnapshotSurface(width, height int) *SnapshotSurface {
	return &SnapshotSurface{Width: width, Height: height}
}

func (s *SnapshotSurface) Present(f Frame) error {
	if f.Scene == nil {
		return errors.New("walkthrough: frame without scene")
	}
	snap := &snapshot{
		index:      f.Index,
		camera:     f.Camera,
		background: f.Scene.Background,
		path:       f.Scene.Path,
		edge:       f.Scene.Edge,
		panels:     make([]snapshotPanel, len(f.Scene.Panels)),
	}
	for i, p := range f.Scene.Panels {
		snap.panels[i] = snapshotPanel{
			index:    p.Index,
			position: p.Position,
			yaw:      p.Rotation.Y(),
			width:    p.Scale.X(),
			texture:  p.Texture,
		}
	}
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
	return nil
}

// LastFrame is the index of the latest presented frame, zero if none.
func (s *SnapshotSurface) LastFrame() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0
	}
	return s.last.index
}

func (s *SnapshotSurface) Image() (image.Image, error) {
	s.mu.Lock()
	snap := s.last
	s.mu.Unlock()
	if snap == nil {
		return nil, ErrNoFrame
	}
	return s.draw(snap).Image(), nil
}

func (s *SnapshotSurface) WritePNG(w io.Writer) error {
	s.mu.Lock()
	snap := s.last
	s.mu.Unlock()
	if snap == nil {
		return ErrNoFrame
	}
	if err := s.draw(snap).EncodePNG(w); err != nil {
		return fmt.Errorf("walkthrough: encode snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotSurface) SavePNG(path string) error {
	s.mu.Lock()
	snap := s.last
	s.mu.Unlock()
	if snap == nil {
		return ErrNoFrame
	}
	return s.draw(snap).SavePNG(path)
}

func (s *SnapshotSurface) draw(snap *snapshot) *gg.Context {
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 480
	}
	if h <= 0 {
		h = 960
	}
	// z runs from the near end of the path at the top to the far end at the bottom
	top := snap.path.Position.Z() + snap.path.Length/2
	scale := math.Min(float64(w)/(2*snapshotHalfWidth), float64(h)/snap.path.Length)
	project := func(v mgl64.Vec3) (float64, float64) {
		return float64(w)/2 + v.X()*scale, (top - v.Z()) * scale
	}

	dc := gg.NewContext(w, h)
	setHex(dc, snap.background, 1)
	dc.Clear()

	for _, plane := range []Plane{snap.edge, snap.path} {
		x, y := project(plane.Position.Add(mgl64.Vec3{-plane.Width / 2, 0, plane.Length / 2}))
		setHex(dc, plane.Color, plane.Opacity)
		dc.DrawRectangle(x, y, plane.Width*scale, plane.Length*scale)
		dc.Fill()
	}

	dc.SetFontFace(basicfont.Face7x13)
	for _, p := range snap.panels {
		px, py := project(p.position)
		pw := math.Max(1, p.width*scale)
		ph := math.Max(1, panelThickness*scale)
		dc.Push()
		dc.RotateAbout(p.yaw, px, py)
		if p.texture != nil {
			dc.DrawImageAnchored(thumbnail(p.texture, int(pw), int(ph)), int(px), int(py), 0.5, 0.5)
		} else {
			dc.SetRGB(0.5, 0.5, 0.5)
			dc.DrawRectangle(px-pw/2, py-ph/2, pw, ph)
			dc.Fill()
		}
		dc.Pop()
		dc.SetRGBA(1, 1, 1, 0.8)
		label := fmt.Sprintf("%02d", p.index+1)
		if p.position.X() < 0 {
			dc.DrawStringAnchored(label, px-ph-4, py, 1, 0.5)
		} else {
			dc.DrawStringAnchored(label, px+ph+4, py, 0, 0.5)
		}
	}

	cx, cy := project(snap.camera.Position)
	fwd := snap.camera.Forward()
	dc.SetRGB(1, 0.85, 0.2)
	dc.DrawCircle(cx, cy, 4)
	dc.Fill()
	dc.SetLineWidth(2)
	dc.DrawLine(cx, cy, cx+fwd.X()*14, cy-fwd.Z()*14)
	dc.Stroke()

	return dc
}

func thumbnail(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, max(1, w), max(1, h)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func setHex(dc *gg.Context, hex uint32, alpha float64) {
	dc.SetRGBA(
		float64(hex>>16&0xff)/255,
		float64(hex>>8&0xff)/255,
		float64(hex&0xff)/255,
		alpha,
	)
}
