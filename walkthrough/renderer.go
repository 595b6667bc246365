package walkthrough

import (
	"context"
	"errors"
	"time"

	"delorean_back/logger"
	"go.uber.org/atomic"
)

var ErrRunning = errors.New("walkthrough: renderer is already running")

// Frame is everything a surface needs to draw one picture.
type Frame struct {
	Index   int64
	Delta   float64
	Elapsed float64
	Camera  Camera
	Scene   *Scene
}

// Surface presents frames. Present runs on the render loop and must not
// block.
type Surface interface {
	Present(f Frame) error
}

type discardSurface struct{}

func (discardSurface) Present(Frame) error { return nil }

type Options struct {
	Clock           FrameClock
	Surface         Surface
	Fetcher         Fetcher
	EnvironmentURL  string
	TextureParallel int
	Logger          *logger.Logger
}

type Stats struct {
	Frames            int64
	TexturesLoaded    int64
	TexturesFailed    int64
	EnvironmentLoaded bool
}

// Renderer owns the frame loop of a scene.
type Renderer struct {
	scene    *Scene
	nav      *Navigator
	clock    FrameClock
	surface  Surface
	fetcher  Fetcher
	envURL   string
	textures *TextureLoader
	env      chan *EnvironmentMap
	log      *logger.Logger

	running atomic.Bool
	exited  atomic.Bool
	exitCh  chan struct{}
	frames  atomic.Int64
	loaded  atomic.Int64
	failed  atomic.Int64
	envOK   atomic.Bool
}

func NewRenderer(scene *Scene, opts Options) *Renderer {
	if opts.Clock == nil {
		opts.Clock = TickerClock{}
	}
	if opts.Surface == nil {
		opts.Surface = discardSurface{}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = HTTPFetcher{}
	}
	log := opts.Logger.With("module", "walkthrough")
	return &Renderer{
		scene:    scene,
		nav:      NewNavigator(),
		clock:    opts.Clock,
		surface:  opts.Surface,
		fetcher:  opts.Fetcher,
		envURL:   opts.EnvironmentURL,
		textures: NewTextureLoader(opts.Fetcher, opts.TextureParallel, len(scene.Panels), log),
		env:      make(chan *EnvironmentMap, 1),
		log:      log,
		exitCh:   make(chan struct{}),
	}
}

func (r *Renderer) Navigator() *Navigator {
	return r.nav
}

func (r *Renderer) Scene() *Scene {
	return r.scene
}

// Exit asks the loop to stop after the current frame.
func (r *Renderer) Exit() {
	if r.exited.CompareAndSwap(false, true) {
		close(r.exitCh)
	}
}

func (r *Renderer) Stats() Stats {
	return Stats{
		Frames:            r.frames.Load(),
		TexturesLoaded:    r.loaded.Load(),
		TexturesFailed:    r.failed.Load(),
		EnvironmentLoaded: r.envOK.Load(),
	}
}

// Run renders until Exit is called, ctx ends or the clock stops. Exit and a
// stopped clock return nil; cancellation returns ctx.Err().
func (r *Renderer) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.startLoads(loadCtx)

	ticks := r.clock.Frames(loadCtx)
	var start, last time.Time
	for {
		select {
		case <-r.exitCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case now, ok := <-ticks:
			if !ok {
				return nil
			}
			if r.exited.Load() {
				return nil
			}
			if start.IsZero() {
				start, last = now, now
			}
			delta := now.Sub(last).Seconds()
			last = now
			r.frame(delta, now.Sub(start).Seconds())
		}
	}
}

func (r *Renderer) startLoads(ctx context.Context) {
	for i, p := range r.scene.Panels {
		if p.Bound && p.Asset.ImageURL != "" {
			r.textures.Load(ctx, i, p.Asset.ImageURL)
		}
	}
	if r.envURL == "" {
		return
	}
	go func() {
		data, err := r.fetcher.Fetch(ctx, r.envURL)
		if err != nil {
			r.log.Warn("environment map unavailable, continuing without it", "url", r.envURL, "error", err)
			return
		}
		select {
		case r.env <- &EnvironmentMap{Source: r.envURL, Data: data}:
		default:
		}
	}()
}

func (r *Renderer) frame(delta, elapsed float64) {
	for _, res := range r.textures.Drain() {
		if res.Panel < 0 || res.Panel >= len(r.scene.Panels) {
			continue
		}
		if res.Err != nil {
			r.failed.Inc()
			r.log.Warn("panel texture failed, keeping placeholder", "panel", res.Panel, "error", res.Err)
			continue
		}
		p := r.scene.Panels[res.Panel]
		p.Texture = res.Image
		p.Loaded = true
		r.loaded.Inc()
	}
	select {
	case env := <-r.env:
		r.scene.Environment = env
		r.envOK.Store(true)
	default:
	}

	cam := r.nav.Step(delta, elapsed)
	r.scene.animate(elapsed)

	f := Frame{
		Index:   r.frames.Inc(),
		Delta:   delta,
		Elapsed: elapsed,
		Camera:  cam,
		Scene:   r.scene,
	}
	if err := r.surface.Present(f); err != nil {
		r.log.Warn("present frame failed", "frame", f.Index, "error", err)
	}
}
