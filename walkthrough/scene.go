package walkthrough

import (
	"image"
	"math"
	"math/rand/v2"

	"delorean_back/tunnel"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	minPathLength = 200.0
	pathWidth     = 4.6
	edgeWidth     = 5.6
	starCount     = 2200
	starRadius    = 140.0
)

// PanelAsset is what a bound panel shows.
type PanelAsset struct {
	ID       string
	ImageURL string
	AudioURL string
	Context  string
	Story    string
}

type LightKind string

const (
	LightHemisphere  LightKind = "hemisphere"
	LightDirectional LightKind = "directional"
	LightSpot        LightKind = "spot"
)

type Light struct {
	Kind        LightKind
	Color       uint32
	GroundColor uint32
	Intensity   float64
	Position    mgl64.Vec3
	Target      mgl64.Vec3
}

type Fog struct {
	Color   uint32
	Density float64
}

// Plane is a flat strip lying on the ground, centred on Position.
type Plane struct {
	Width    float64
	Length   float64
	Position mgl64.Vec3
	Color    uint32
	Opacity  float64
}

type Star struct {
	Position mgl64.Vec3
	Hue      float64
	Sat      float64
	Light    float64
}

// EnvironmentMap is a loaded lighting map.
type EnvironmentMap struct {
	Source string
	Data   []byte
}

// Panel is one floating image. Position moves every frame around Origin.
type Panel struct {
	Index     int
	SlotID    string
	Asset     PanelAsset
	Bound     bool
	Origin    mgl64.Vec3
	Position  mgl64.Vec3
	Rotation  mgl64.Vec3
	Scale     mgl64.Vec3
	Axis      mgl64.Vec3
	Speed     float64
	Phase     float64
	Amplitude float64
	Texture   image.Image
	Loaded    bool
}

// Float moves the panel along its axis for the given elapsed time.
func (p *Panel) Float(elapsed float64) {
	t := elapsed*p.Speed + p.Phase
	p.Position = p.Origin.Add(p.Axis.Mul(math.Sin(t) * p.Amplitude))
}

type Scene struct {
	Background  uint32
	Fog         Fog
	Lights      []Light
	Path        Plane
	Edge        Plane
	Stars       []Star
	StarOpacity float64
	Panels      []*Panel
	Environment *EnvironmentMap
}

type SceneOptions struct {
	// Seed makes star placement and panel float parameters reproducible.
	Seed uint64
	// Positional keeps the blueprint as is, so assets past its last slot are
	// not shown. By default the blueprint grows to fit every asset.
	Positional bool
}

// BuildScene lays out the fixed environment and one panel per slot, laid
// along the walkway walls.
func BuildScene(cfg tunnel.Config, assets []PanelAsset, opts SceneOptions) *Scene {
	slots := cfg.Slots
	if !opts.Positional && len(assets) > len(slots) {
		slots = tunnel.Extend(cfg, len(assets)).Slots
	}
	bindings := tunnel.Bind(tunnel.SandboxLayout(slots), assets)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	length := minPathLength
	for _, b := range bindings {
		if need := math.Abs(b.Slot.Position.Z()) + 30; need > length {
			length = need
		}
	}
	centre := mgl64.Vec3{0, 0, 10 - length/2}

	scene := &Scene{
		Background: 0x040712,
		Fog:        Fog{Color: 0x050910, Density: 0.012},
		Lights: []Light{
			{Kind: LightHemisphere, Color: 0xf8fbff, GroundColor: 0x1b2242, Intensity: 1.05},
			{Kind: LightDirectional, Color: 0xffffff, Intensity: 0.85, Position: mgl64.Vec3{3, 12, 8}},
			{Kind: LightSpot, Color: 0xffffff, Intensity: 2.8, Position: mgl64.Vec3{0, 14, -20}, Target: mgl64.Vec3{0, 0, -40}},
		},
		Path:        Plane{Width: pathWidth, Length: length, Position: centre, Color: 0x2a3142, Opacity: 1},
		Edge:        Plane{Width: edgeWidth, Length: length, Position: centre.Add(mgl64.Vec3{0, 0.015, 0}), Color: 0x111627, Opacity: 0.28},
		Stars:       makeStars(rng),
		StarOpacity: 0.88,
	}

	scene.Panels = make([]*Panel, len(bindings))
	for i, b := range bindings {
		origin := b.Slot.Position
		// nudge the image off its frame towards the walkway
		if origin.X() > 0 {
			origin[2] -= 0.015
		} else {
			origin[2] += 0.015
		}
		p := &Panel{
			Index:     b.Index,
			SlotID:    b.Slot.ID,
			Asset:     b.Asset,
			Bound:     b.Bound,
			Origin:    origin,
			Position:  origin,
			Rotation:  b.Slot.Rotation,
			Scale:     b.Slot.Scale,
			Axis:      mgl64.Vec3{0.15 + rng.Float64()*0.25, 1, 0.2 + rng.Float64()*0.2}.Normalize(),
			Speed:     0.22 + rng.Float64()*0.2,
			Phase:     rng.Float64() * math.Pi * 2,
			Amplitude: 0.28 + rng.Float64()*0.18,
			Texture:   PlaceholderTexture(b.Index),
		}
		scene.Panels[i] = p
	}
	return scene
}

func makeStars(rng *rand.Rand) []Star {
	stars := make([]Star, starCount)
	for i := range stars {
		radius := starRadius * (0.6 + rng.Float64()*0.4)
		theta := rng.Float64() * math.Pi * 2
		phi := math.Acos(rng.Float64()*2 - 1)
		pos := mgl64.SphericalToCartesian(radius, phi, theta)
		stars[i] = Star{
			Position: mgl64.Vec3{pos.X(), pos.Y(), pos.Z() - 70},
			Hue:      180 + rng.Float64()*120,
			Sat:      0.7 + rng.Float64()*0.2,
			Light:    0.75 + rng.Float64()*0.15,
		}
	}
	return stars
}

// animate advances everything that moves with time alone.
func (s *Scene) animate(elapsed float64) {
	for _, p := range s.Panels {
		p.Float(elapsed)
	}
	s.StarOpacity = 0.82 + 0.06*math.Sin(elapsed*0.2)
}

// BoundPanels counts panels showing an asset.
func (s *Scene) BoundPanels() int {
	n := 0
	for _, p := range s.Panels {
		if p.Bound {
			n++
		}
	}
	return n
}
