package walkthrough

import (
	"math"
	"testing"
)

func TestNavigatorIgnoresInputUntilLocked(t *testing.T) {
	n := NewNavigator()
	n.KeyDown(KeyW)
	n.Look(500, 0)
	for i := 0; i < 30; i++ {
		n.Step(1.0/60, float64(i)/60)
	}
	if got := n.Position(); got != StartPosition {
		t.Fatalf("moved while unlocked: %v", got)
	}

	n.Lock()
	for i := 0; i < 30; i++ {
		n.Step(1.0/60, float64(i)/60)
	}
	if got := n.Position(); got.Z() >= StartPosition.Z() {
		t.Fatalf("forward did not move towards -z: %v", got)
	}
	cam := n.Step(0, 0)
	if cam.Yaw != 0 {
		t.Fatalf("look recorded before lock was applied: yaw=%v", cam.Yaw)
	}
}

func TestNavigatorClampsLateralAndDelta(t *testing.T) {
	n := NewNavigator()
	n.Lock()
	n.KeyDown(KeyArrowLeft)
	for i := 0; i < 600; i++ {
		n.Step(1.0/30, 0)
	}
	if x := n.Position().X(); x != MinX {
		t.Fatalf("x = %v, want clamp at %v", x, MinX)
	}
	n.KeyUp(KeyArrowLeft)

	// a long stall counts as MaxFrameDelta
	a := NewNavigator()
	a.Lock()
	a.KeyDown(KeyW)
	a.Step(5, 0)
	b := NewNavigator()
	b.Lock()
	b.KeyDown(KeyW)
	b.Step(MaxFrameDelta, 0)
	if a.Position() != b.Position() {
		t.Fatalf("stalled step %v != capped step %v", a.Position(), b.Position())
	}
}

func TestNavigatorVelocityDecays(t *testing.T) {
	n := NewNavigator()
	n.Lock()
	n.KeyDown(KeyD)
	for i := 0; i < 10; i++ {
		n.Step(1.0/60, 0)
	}
	n.KeyUp(KeyD)
	for i := 0; i < 240; i++ {
		n.Step(1.0/60, 0)
	}
	before := n.Position()
	n.Step(1.0/60, 0)
	if d := n.Position().Sub(before).Len(); d > 1e-3 {
		t.Fatalf("still drifting %v per frame after release", d)
	}
}

func TestNavigatorHeadBobStaysInBox(t *testing.T) {
	n := NewNavigator()
	for i := 0; i < 200; i++ {
		cam := n.Step(1.0/60, float64(i)*0.25)
		if y := cam.Position.Y(); y < MinY || y > MaxY || math.Abs(y-EyeHeight) > 0.0301 {
			t.Fatalf("eye height %v out of range", y)
		}
	}
}

func TestNavigatorPitchClamp(t *testing.T) {
	n := NewNavigator()
	n.Lock()
	n.Look(0, -1e6)
	cam := n.Step(0.01, 0)
	if math.Abs(cam.Pitch-maxPitch) > 1e-9 {
		t.Fatalf("pitch = %v, want %v", cam.Pitch, maxPitch)
	}
}
