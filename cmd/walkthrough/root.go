package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"delorean_back/client"
	"delorean_back/logger"
	"delorean_back/tunnel"
	"delorean_back/walkthrough"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	server     string
	blueprint  string
	duration   time.Duration
	fps        int
	out        string
	envMap     string
	positional bool
	forward    bool
	width      int
	height     int
	seed       uint64
	log        *logger.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "walkthrough",
		Short:         "Create and walk photo tunnels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.NewFromEnv()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.log = l
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("DELOREAN_SERVER_URL", "http://localhost:4000"), "server base URL")
	flags.StringVar(&opts.blueprint, "blueprint", os.Getenv("TUNNEL_BLUEPRINT_PATH"), "YAML tunnel blueprint (built-in layout when empty)")
	flags.DurationVar(&opts.duration, "duration", 5*time.Second, "how long to walk before stopping")
	flags.IntVar(&opts.fps, "fps", 60, "frames per second")
	flags.StringVar(&opts.out, "out", "walkthrough.png", "snapshot PNG of the last frame")
	flags.StringVar(&opts.envMap, "env-map", os.Getenv("WALKTHROUGH_ENV_MAP_URL"), "environment lighting map URL")
	flags.BoolVar(&opts.positional, "positional", false, "keep the blueprint size; assets past its last slot are not shown")
	flags.BoolVar(&opts.forward, "walk", true, "hold the forward key for the whole run")
	flags.IntVar(&opts.width, "width", 480, "snapshot width")
	flags.IntVar(&opts.height, "height", 960, "snapshot height")
	flags.Uint64Var(&opts.seed, "seed", 1, "scene seed")

	cmd.AddCommand(newCreateCmd(opts), newOpenCmd(opts))
	return cmd
}

func (o *rootOptions) newClient() *client.Client {
	return client.NewClient(o.server, nil, o.log)
}

// walk binds the committed assets to the blueprint and runs the renderer
// until the duration elapses or the user interrupts.
func (o *rootOptions) walk(ctx context.Context, walk client.Walkthrough) error {
	cfg := tunnel.DefaultTunnel()
	if strings.TrimSpace(o.blueprint) != "" {
		loaded, err := tunnel.LoadConfig(o.blueprint)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	assets := make([]walkthrough.PanelAsset, len(walk.Assets))
	for i, a := range walk.Assets {
		assets[i] = walkthrough.PanelAsset{
			ID:       a.ID,
			ImageURL: a.URL,
			AudioURL: a.AudioURL,
			Context:  a.Context,
			Story:    a.Story.Text,
		}
	}
	scene := walkthrough.BuildScene(cfg, assets, walkthrough.SceneOptions{Seed: o.seed, Positional: o.positional})
	if bound := scene.BoundPanels(); bound < len(assets) {
		o.log.Warn("blueprint too short, some assets are not shown", "assets", len(assets), "shown", bound)
	}

	surface := walkthrough.NewSnapshotSurface(o.width, o.height)
	interval := time.Second / 60
	if o.fps > 0 {
		interval = time.Second / time.Duration(o.fps)
	}
	r := walkthrough.NewRenderer(scene, walkthrough.Options{
		Clock:          walkthrough.TickerClock{Interval: interval},
		Surface:        surface,
		EnvironmentURL: o.envMap,
		Logger:         o.log,
	})

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		if _, ok := <-interrupts; ok {
			r.Exit()
		}
	}()

	if o.forward {
		r.Navigator().Lock()
		r.Navigator().KeyDown(walkthrough.KeyW)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()
	if err := r.Run(runCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	stats := r.Stats()
	o.log.Info("walkthrough finished",
		"tunnel_id", walk.TunnelID,
		"frames", stats.Frames,
		"textures_loaded", stats.TexturesLoaded,
		"textures_failed", stats.TexturesFailed,
		"environment", stats.EnvironmentLoaded,
	)
	if o.out == "" {
		return nil
	}
	if err := surface.SavePNG(o.out); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	fmt.Printf("tunnel %s: %d panels, snapshot written to %s\n", walk.TunnelID, len(walk.Assets), o.out)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
