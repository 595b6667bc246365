package tunnel

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

const slotSpacing = 8.0

// Slot is a fixed placement in the walkthrough geometry. Rotation holds Euler
// angles in radians.
type Slot struct {
	ID       string     `yaml:"id" json:"id"`
	Position mgl64.Vec3 `yaml:"position" json:"position"`
	Rotation mgl64.Vec3 `yaml:"rotation" json:"rotation"`
	Scale    mgl64.Vec3 `yaml:"scale" json:"scale"`
}

// Config is a tunnel blueprint.
type Config struct {
	Length float64 `yaml:"length" json:"length"`
	Radius float64 `yaml:"radius" json:"radius"`
	Slots  []Slot  `yaml:"slots" json:"slots"`
}

var panelScale = mgl64.Vec3{4, 3, 1}

// DefaultTunnel returns a fresh copy of the built-in ten-slot blueprint.
func DefaultTunnel() Config {
	yaws := []float64{
		math.Pi / 2, -math.Pi / 2, math.Pi / 3, -math.Pi / 3, math.Pi / 1.5,
		-math.Pi / 2.2, math.Pi / 2.8, -math.Pi / 1.7, math.Pi / 2.5, -math.Pi / 2.5,
	}
	heights := []float64{0, 1, -0.5, 0, 0.75, -1, 0.25, 0, -0.75, 0.5}

	slots := make([]Slot, len(yaws))
	for i := range yaws {
		slots[i] = Slot{
			ID:       SlotID(i),
			Position: mgl64.Vec3{0, heights[i], -slotSpacing * float64(i+1)},
			Rotation: mgl64.Vec3{0, yaws[i], 0},
			Scale:    panelScale,
		}
	}
	return Config{Length: 120, Radius: 6, Slots: slots}
}

// SlotID formats the 1-based slot label for index i, e.g. "slot-03".
func SlotID(i int) string {
	return fmt.Sprintf("slot-%02d", i+1)
}

// Clone returns a deep copy of cfg.
func (c Config) Clone() Config {
	out := c
	out.Slots = append([]Slot(nil), c.Slots...)
	return out
}

// Extend returns a blueprint with exactly count slots. Fewer slots than the
// base are a prefix of it; more are appended every slotSpacing units past the
// last slot with alternating yaw. base is never modified.
func Extend(base Config, count int) Config {
	out := base.Clone()
	if count < 0 {
		count = 0
	}
	if count <= len(base.Slots) {
		out.Slots = out.Slots[:count]
		return out
	}

	lastZ := -slotSpacing
	if n := len(base.Slots); n > 0 {
		lastZ = base.Slots[n-1].Position.Z()
	}
	start := math.Abs(lastZ) + slotSpacing
	for i := len(base.Slots); i < count; i++ {
		sign := -1.0
		if i%2 == 0 {
			sign = 1.0
		}
		out.Slots = append(out.Slots, Slot{
			ID:       SlotID(i),
			Position: mgl64.Vec3{0, 0, -start - slotSpacing*float64(i-len(base.Slots))},
			Rotation: mgl64.Vec3{0, sign * math.Pi / 2.8, 0},
			Scale:    panelScale,
		})
	}
	if needed := math.Abs(out.Slots[len(out.Slots)-1].Position.Z()) + slotSpacing; needed > out.Length {
		out.Length = needed
	}
	return out
}

// SandboxLayout places slots alternately on the left and right walls of the
// walkway, facing the path, keeping each slot's id.
func SandboxLayout(slots []Slot) []Slot {
	out := make([]Slot, len(slots))
	for i, slot := range slots {
		left := i%2 == 0
		x, yaw := 3.2, -math.Pi/2.15
		if left {
			x, yaw = -3.2, math.Pi/2.15
		}
		out[i] = Slot{
			ID:       slot.ID,
			Position: mgl64.Vec3{x, 1.9, -14 - 9*float64(i)},
			Rotation: mgl64.Vec3{0, yaw, 0},
			Scale:    mgl64.Vec3{4.2, 3.2, 1},
		}
	}
	return out
}

// LoadConfig reads a YAML blueprint.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tunnel: read blueprint: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("tunnel: parse blueprint: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv loads TUNNEL_BLUEPRINT_PATH or falls back to DefaultTunnel.
func ConfigFromEnv() (Config, error) {
	path := strings.TrimSpace(os.Getenv("TUNNEL_BLUEPRINT_PATH"))
	if path == "" {
		return DefaultTunnel(), nil
	}
	return LoadConfig(path)
}

func (c Config) Validate() error {
	if len(c.Slots) == 0 {
		return errors.New("tunnel: blueprint has no slots")
	}
	seen := make(map[string]struct{}, len(c.Slots))
	for i, s := range c.Slots {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("tunnel: slot %d has no id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("tunnel: duplicate slot id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Scale.X() <= 0 || s.Scale.Y() <= 0 {
			return fmt.Errorf("tunnel: slot %q has non-positive scale", s.ID)
		}
	}
	return nil
}
