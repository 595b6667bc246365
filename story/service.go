package story

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"delorean_back/llm"
	"delorean_back/logger"
	"delorean_back/manifest"
	"delorean_back/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrProviderUnavailable = errors.New("story: no story provider configured")
	ErrProviderError       = errors.New("story: story provider failed")
	ErrAssetMissing        = errors.New("story: asset image is missing")
)

// AssetStore is the part of the manifest the service mutates.
type AssetStore interface {
	Get(id string) (manifest.AssetRecord, error)
	Update(id string, mutate func(*manifest.AssetRecord) error) (manifest.AssetRecord, error)
	List() []manifest.AssetRecord
}

// ImageReader loads a stored image by file name.
type ImageReader interface {
	Read(name string) ([]byte, error)
}

// Narrator turns finished text into an audio file and returns its file name.
type Narrator interface {
	Enabled() bool
	SynthesizeToFile(ctx context.Context, text, id string) (string, error)
}

// ImageRef is the image handed to the generator.
type ImageRef struct {
	Data     []byte
	MimeType string
}

// Result is one generated story.
type Result struct {
	Text   string
	Prompt string
}

// Options tune a single Generate call.
type Options struct {
	// Context, when non-nil, replaces the asset's context before generating.
	Context  *string
	Force    bool
	TunnelID string
	Narrate  bool
}

// Outcome is what Generate returns to the HTTP layer.
type Outcome struct {
	Asset  manifest.AssetRecord
	Story  manifest.StoryState
	Reused bool
}

// Service drives the per-asset story state machine.
type Service struct {
	generator llm.Generator
	assets    AssetStore
	images    ImageReader
	narrator  Narrator
	log       *logger.Logger
	now       func() time.Time
}

func NewService(generator llm.Generator, assets AssetStore, images ImageReader, narrator Narrator, log *logger.Logger) *Service {
	return &Service{
		generator: generator,
		assets:    assets,
		images:    images,
		narrator:  narrator,
		log:       log.With("module", "story"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.generator != nil
}

func (s *Service) NarrationEnabled() bool {
	return s != nil && s.narrator != nil && s.narrator.Enabled()
}

// GenerateStory runs one generation call without touching the manifest.
func (s *Service) GenerateStory(ctx context.Context, image ImageRef, contextText, title string, position, total int) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrProviderUnavailable
	}
	prompt := BuildPrompt(PromptInput{Context: contextText, Title: title, Position: position, Total: total})

	ctx, span := otel.Tracer("delorean_back/story").Start(ctx, "story.GenerateStory")
	defer span.End()
	span.SetAttributes(
		attribute.String("story.provider", s.generator.Provider()),
		attribute.Int("story.position", position),
		attribute.Int("story.total", total),
	)

	resp, err := s.generator.GenerateWithImage(ctx, llm.VisionRequest{
		Prompt:   prompt,
		Image:    image.Data,
		MimeType: image.MimeType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		if errors.Is(err, llm.ErrDisabled) {
			return Result{Prompt: prompt}, ErrProviderUnavailable
		}
		return Result{Prompt: prompt}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	text, err := llm.ExtractText(resp)
	if err != nil {
		span.SetStatus(codes.Error, "empty response")
		return Result{Prompt: prompt}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return Result{Text: text, Prompt: prompt}, nil
}

// Generate moves one asset through pending/processing/ready/error. A ready
// story is returned as-is unless Force is set. The processing state is
// persisted before the provider call and the final state after it; the call
// itself runs outside the manifest lock.
func (s *Service) Generate(ctx context.Context, id string, opts Options) (Outcome, error) {
	if !s.Enabled() {
		return Outcome{}, ErrProviderUnavailable
	}

	record, err := s.assets.Get(id)
	if err != nil {
		return Outcome{}, err
	}

	if opts.Context != nil {
		override := strings.TrimSpace(*opts.Context)
		record, err = s.assets.Update(id, func(r *manifest.AssetRecord) error {
			r.Context = override
			return nil
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	if record.Story.Status == manifest.StatusReady && !opts.Force {
		return Outcome{Asset: record, Story: record.Story, Reused: true}, nil
	}

	data, err := s.images.Read(record.Filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrAssetMissing, record.Filename)
		}
		return Outcome{}, fmt.Errorf("story: read image %s: %w", record.Filename, err)
	}

	contextText := record.Context
	record, err = s.assets.Update(id, func(r *manifest.AssetRecord) error {
		r.Story.MarkProcessing(s.now(), contextText)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	position, total := s.position(record)
	result, genErr := s.GenerateStory(ctx, ImageRef{Data: data, MimeType: record.MimeType}, contextText, record.OriginalName, position, total)

	record, err = s.assets.Update(id, func(r *manifest.AssetRecord) error {
		if genErr != nil {
			r.Story.MarkError(s.now(), genErr.Error(), result.Prompt)
			return nil
		}
		r.Story.MarkReady(s.now(), result.Text, result.Prompt)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if genErr != nil {
		s.log.Warn("story generation failed", "asset_id", id, "tunnel_id", opts.TunnelID, "error", genErr)
		return Outcome{Asset: record, Story: record.Story}, genErr
	}

	if opts.Narrate {
		record = s.narrate(ctx, record)
	}
	return Outcome{Asset: record, Story: record.Story}, nil
}

// narrate attaches synthesized audio to a ready story. Failures are logged
// and leave the story as it is.
func (s *Service) narrate(ctx context.Context, record manifest.AssetRecord) manifest.AssetRecord {
	if !s.NarrationEnabled() || record.Story.Status != manifest.StatusReady {
		return record
	}
	file, err := s.narrator.SynthesizeToFile(ctx, record.Story.Text, record.ID)
	if err != nil {
		s.log.Warn("narration failed", "asset_id", record.ID, "error", err)
		return record
	}
	updated, err := s.assets.Update(record.ID, func(r *manifest.AssetRecord) error {
		r.Story.AudioFile = file
		return nil
	})
	if err != nil {
		s.log.Warn("record narration failed", "asset_id", record.ID, "error", err)
		return record
	}
	return updated
}

// position is the 1-based index of record in manifest order.
func (s *Service) position(record manifest.AssetRecord) (int, int) {
	all := s.assets.List()
	for i, r := range all {
		if r.ID == record.ID {
			return i + 1, len(all)
		}
	}
	return 0, len(all)
}

// Summarize is the legacy batch narrative over several memory contexts.
func (s *Service) Summarize(ctx context.Context, memories []string) (string, error) {
	if !s.Enabled() {
		return "", ErrProviderUnavailable
	}
	resp, err := s.generator.GenerateText(ctx, SummaryPrompt(memories))
	if err != nil {
		if errors.Is(err, llm.ErrDisabled) {
			return "", ErrProviderUnavailable
		}
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	text, err := llm.ExtractText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return text, nil
}

// Narrate synthesizes text directly, for the legacy narrate endpoint.
func (s *Service) Narrate(ctx context.Context, text, id string) (string, error) {
	if !s.NarrationEnabled() {
		return "", ErrProviderUnavailable
	}
	return s.narrator.SynthesizeToFile(ctx, text, id)
}
