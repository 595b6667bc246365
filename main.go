package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"delorean_back/llm"
	"delorean_back/logger"
	"delorean_back/manifest"
	"delorean_back/observability"
	"delorean_back/photo"
	"delorean_back/storage"
	"delorean_back/story"
	"delorean_back/tts"
	"delorean_back/tunnel"
	"delorean_back/uploads"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "delorean_back"

func mustLoadEnv() {
	_ = godotenv.Load()
}

func allowedOrigins() []string {
	raw := os.Getenv("CLIENT_ORIGIN")
	if strings.TrimSpace(raw) == "" {
		raw = "http://localhost:5173"
	}
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func main() {
	mustLoadEnv()

	appLog, err := logger.NewFromEnv()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Sync()

	ctx := context.Background()
	shutdownTracing := observability.InitTracing(ctx, appLog, serviceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			appLog.Warn("flush traces failed", "error", err)
		}
	}()

	images, err := storage.NewUploadStoreFromEnv()
	if err != nil {
		appLog.Fatal("init upload storage", "error", err)
	}
	audio, err := storage.NewAudioStoreFromEnv()
	if err != nil {
		appLog.Fatal("init audio storage", "error", err)
	}
	assets, err := manifest.OpenFromEnv(images.BaseDir(), images, appLog)
	if err != nil {
		appLog.Fatal("open manifest", "error", err)
	}

	var generator llm.Generator
	if g, err := llm.NewGeneratorFromEnv(ctx); err != nil {
		if errors.Is(err, llm.ErrDisabled) {
			appLog.Warn("story generation disabled", "reason", err.Error())
		} else {
			appLog.Warn("story provider failed to initialise, story generation disabled", "error", err)
		}
	} else {
		generator = g
		appLog.Info("story provider ready", "provider", g.Provider())
	}

	speech, err := tts.NewClientFromEnv(appLog)
	if err != nil {
		appLog.Fatal("init tts", "error", err)
	}
	narrator := tts.NewNarrator(speech, audio)
	if !narrator.Enabled() {
		appLog.Warn("narration disabled, no tts provider configured")
	}

	stories := story.NewService(generator, assets, images, narrator, appLog)

	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if _, err := uploads.RegisterRoutes(r, uploads.Options{
		Assets:        assets,
		Images:        images,
		Audio:         audio,
		Normalizer:    photo.NewNormalizerFromEnv(),
		Stories:       stories,
		Sessions:      tunnel.NewSessionStoreFromEnv(appLog),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		Logger:        appLog,
	}); err != nil {
		appLog.Fatal("register upload routes", "error", err)
	}
	if _, err := tts.RegisterRoutes(r, speech); err != nil {
		appLog.Fatal("register tts routes", "error", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}

	appLog.Info("server listening", "port", port)
	if err := r.Run(":" + port); err != nil {
		appLog.Fatal("start server", "error", err)
	}
}
