package walkthrough

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/atomic"
)

const (
	WalkSpeed     = 20.0
	Damping       = 8.0
	MaxFrameDelta = 0.1
	MinX, MaxX    = -3.4, 3.4
	MinY, MaxY    = 1.6, 2.4
	EyeHeight     = 2.0
	bobAmplitude  = 0.03
	bobRate       = 0.6
	pointerSpeed  = 0.6
	lookScale     = 0.002
)

// pitch stays between 15 and 165 degrees from straight up
var maxPitch = mgl64.DegToRad(75)

// StartPosition is where the walker stands when the scene opens.
var StartPosition = mgl64.Vec3{0, 1.8, -4}

type Key string

const (
	KeyW          Key = "KeyW"
	KeyA          Key = "KeyA"
	KeyS          Key = "KeyS"
	KeyD          Key = "KeyD"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowDown  Key = "ArrowDown"
	KeyArrowRight Key = "ArrowRight"
)

// Camera is the eye for one frame. Yaw rotates about +Y, zero looks down -Z.
type Camera struct {
	Position mgl64.Vec3
	Yaw      float64
	Pitch    float64
}

// Forward is the horizontal unit vector the camera faces.
func (c Camera) Forward() mgl64.Vec3 {
	return mgl64.Rotate3DY(c.Yaw).Mul3x1(mgl64.Vec3{0, 0, -1})
}

// Navigator is first-person movement. Input may arrive from any goroutine
// as held/released flags; Step samples it once per frame.
type Navigator struct {
	forward atomic.Bool
	back    atomic.Bool
	left    atomic.Bool
	right   atomic.Bool
	locked  atomic.Bool

	lookMu sync.Mutex
	lookX  float64
	lookY  float64

	position mgl64.Vec3
	velocity mgl64.Vec3
	yaw      float64
	pitch    float64
}

func NewNavigator() *Navigator {
	return &Navigator{position: StartPosition}
}

// Lock grants pointer lock; movement and look only apply while locked.
func (n *Navigator) Lock() {
	n.locked.Store(true)
}

func (n *Navigator) Unlock() {
	n.locked.Store(false)
	n.lookMu.Lock()
	n.lookX, n.lookY = 0, 0
	n.lookMu.Unlock()
}

func (n *Navigator) Locked() bool {
	return n.locked.Load()
}

func (n *Navigator) KeyDown(k Key) {
	if flag := n.flag(k); flag != nil {
		flag.Store(true)
	}
}

func (n *Navigator) KeyUp(k Key) {
	if flag := n.flag(k); flag != nil {
		flag.Store(false)
	}
}

func (n *Navigator) flag(k Key) *atomic.Bool {
	switch k {
	case KeyW, KeyArrowUp:
		return &n.forward
	case KeyS, KeyArrowDown:
		return &n.back
	case KeyA, KeyArrowLeft:
		return &n.left
	case KeyD, KeyArrowRight:
		return &n.right
	}
	return nil
}

// Look records pointer movement in pixels. It is ignored while unlocked.
func (n *Navigator) Look(dx, dy float64) {
	if !n.Locked() {
		return
	}
	n.lookMu.Lock()
	n.lookX += dx
	n.lookY += dy
	n.lookMu.Unlock()
}

// Step advances by delta seconds and returns the camera for a frame at
// elapsed seconds. Only the render loop calls it.
func (n *Navigator) Step(delta, elapsed float64) Camera {
	delta = mgl64.Clamp(delta, 0, MaxFrameDelta)

	n.velocity[0] -= n.velocity[0] * Damping * delta
	n.velocity[2] -= n.velocity[2] * Damping * delta

	dir := mgl64.Vec3{boolf(n.left.Load()) - boolf(n.right.Load()), 0, boolf(n.back.Load()) - boolf(n.forward.Load())}
	if dir.Len() > 0 {
		dir = dir.Normalize()
	}

	if n.Locked() {
		n.applyLook()

		n.velocity[2] -= dir.Z() * WalkSpeed * delta
		n.velocity[0] -= dir.X() * WalkSpeed * delta

		turn := mgl64.Rotate3DY(n.yaw)
		right := turn.Mul3x1(mgl64.Vec3{1, 0, 0})
		forward := turn.Mul3x1(mgl64.Vec3{0, 0, -1})
		n.position = n.position.
			Add(right.Mul(n.velocity.X() * delta)).
			Add(forward.Mul(n.velocity.Z() * delta))

		n.position[0] = mgl64.Clamp(n.position.X(), MinX, MaxX)
		n.position[1] = mgl64.Clamp(n.position.Y(), MinY, MaxY)
	}

	eye := n.position
	eye[1] = EyeHeight + bobAmplitude*math.Sin(elapsed*bobRate)
	return Camera{Position: eye, Yaw: n.yaw, Pitch: n.pitch}
}

func (n *Navigator) applyLook() {
	n.lookMu.Lock()
	dx, dy := n.lookX, n.lookY
	n.lookX, n.lookY = 0, 0
	n.lookMu.Unlock()

	n.yaw -= dx * lookScale * pointerSpeed
	n.pitch = mgl64.Clamp(n.pitch-dy*lookScale*pointerSpeed, -maxPitch, maxPitch)
}

// Position is the walker's position without head bob.
func (n *Navigator) Position() mgl64.Vec3 {
	return n.position
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
