package tunnel

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDefaultTunnel(t *testing.T) {
	cfg := DefaultTunnel()
	if cfg.Length != 120 || cfg.Radius != 6 || len(cfg.Slots) != 10 {
		t.Fatalf("cfg = %+v", cfg)
	}
	first, last := cfg.Slots[0], cfg.Slots[9]
	if first.ID != "slot-01" || !approx(first.Position.Z(), -8) || !approx(first.Rotation.Y(), math.Pi/2) {
		t.Fatalf("first slot = %+v", first)
	}
	if last.ID != "slot-10" || !approx(last.Position.Z(), -80) || !approx(last.Position.Y(), 0.5) || !approx(last.Rotation.Y(), -math.Pi/2.5) {
		t.Fatalf("last slot = %+v", last)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.Slots[0].ID = "mutated"
	if DefaultTunnel().Slots[0].ID != "slot-01" {
		t.Fatalf("DefaultTunnel shares state between calls")
	}
}

func TestExtend(t *testing.T) {
	base := DefaultTunnel()

	short := Extend(base, 3)
	if len(short.Slots) != 3 || short.Slots[2].ID != "slot-03" {
		t.Fatalf("short = %+v", short.Slots)
	}

	long := Extend(base, 13)
	if len(long.Slots) != 13 {
		t.Fatalf("len = %d, want 13", len(long.Slots))
	}
	wantZ := []float64{-88, -96, -104}
	wantSign := []float64{1, -1, 1}
	for i, z := range wantZ {
		s := long.Slots[10+i]
		if !approx(s.Position.Z(), z) {
			t.Fatalf("slot %d z = %v, want %v", 10+i, s.Position.Z(), z)
		}
		if !approx(s.Rotation.Y(), wantSign[i]*math.Pi/2.8) {
			t.Fatalf("slot %d yaw = %v", 10+i, s.Rotation.Y())
		}
	}
	if long.Slots[12].ID != "slot-13" {
		t.Fatalf("id = %q", long.Slots[12].ID)
	}
	if len(base.Slots) != 10 {
		t.Fatalf("base mutated: %d slots", len(base.Slots))
	}

	empty := Extend(Config{}, 2)
	if !approx(empty.Slots[0].Position.Z(), -16) || !approx(empty.Slots[1].Position.Z(), -24) {
		t.Fatalf("empty base = %+v", empty.Slots)
	}
}

func TestBindProperties(t *testing.T) {
	slots := DefaultTunnel().Slots
	for _, m := range []int{0, 1, 7, 10} {
		assets := make([]string, m)
		for i := range assets {
			assets[i] = SlotID(i)
		}
		bindings := Bind(slots, assets)
		if len(bindings) != len(slots) {
			t.Fatalf("m=%d: %d bindings", m, len(bindings))
		}
		if got := BoundCount(bindings); got != m {
			t.Fatalf("m=%d: bound = %d", m, got)
		}
		for i, b := range bindings {
			if b.Bound && b.Asset != assets[i] {
				t.Fatalf("m=%d: slot %d got %q", m, i, b.Asset)
			}
		}
	}
}

func TestBindExtendedPlacesEveryAsset(t *testing.T) {
	assets := make([]int, 14)
	for i := range assets {
		assets[i] = i
	}
	cfg, bindings := BindExtended(DefaultTunnel(), assets)
	if len(cfg.Slots) != 14 || len(bindings) != 14 || BoundCount(bindings) != 14 {
		t.Fatalf("slots=%d bindings=%d bound=%d", len(cfg.Slots), len(bindings), BoundCount(bindings))
	}
	for i, b := range bindings {
		if b.Asset != i || b.Index != i {
			t.Fatalf("binding %d = %+v", i, b)
		}
	}

	again, _ := BindExtended(DefaultTunnel(), assets)
	for i := range cfg.Slots {
		if cfg.Slots[i] != again.Slots[i] {
			t.Fatalf("binding not deterministic at %d", i)
		}
	}

	cfg, bindings = BindExtended(DefaultTunnel(), assets[:4])
	if len(cfg.Slots) != 10 || BoundCount(bindings) != 4 {
		t.Fatalf("fewer assets: slots=%d bound=%d", len(cfg.Slots), BoundCount(bindings))
	}
}

func TestSandboxLayout(t *testing.T) {
	slots := SandboxLayout(DefaultTunnel().Slots)
	if !approx(slots[0].Position.X(), -3.2) || !approx(slots[1].Position.X(), 3.2) {
		t.Fatalf("sides = %v %v", slots[0].Position, slots[1].Position)
	}
	if !approx(slots[2].Position.Z(), -32) || !approx(slots[0].Position.Y(), 1.9) {
		t.Fatalf("slot 2 = %v", slots[2].Position)
	}
	if !approx(slots[0].Rotation.Y(), math.Pi/2.15) || !approx(slots[1].Rotation.Y(), -math.Pi/2.15) {
		t.Fatalf("yaw = %v %v", slots[0].Rotation, slots[1].Rotation)
	}
	if slots[3].ID != "slot-04" {
		t.Fatalf("id = %q", slots[3].ID)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel.yaml")
	raw := `length: 60
radius: 4
slots:
  - id: hall-a
    position: [0, 0, -6]
    rotation: [0, 1.2, 0]
    scale: [4, 3, 1]
  - id: hall-b
    position: [0, 0.5, -12]
    rotation: [0, -1.2, 0]
    scale: [4, 3, 1]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Length != 60 || len(cfg.Slots) != 2 || cfg.Slots[1].ID != "hall-b" || !approx(cfg.Slots[1].Position.Z(), -12) {
		t.Fatalf("cfg = %+v", cfg)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("slots:\n  - id: a\n    scale: [0, 0, 1]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestConfigFromEnvDefault(t *testing.T) {
	t.Setenv("TUNNEL_BLUEPRINT_PATH", "")
	cfg, err := ConfigFromEnv()
	if err != nil || len(cfg.Slots) != 10 {
		t.Fatalf("cfg = %+v err = %v", cfg, err)
	}
}
