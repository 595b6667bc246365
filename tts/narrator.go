package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"delorean_back/storage"
)

// Narrator writes synthesized narration into the audio content directory,
// one file per caller-supplied id.
type Narrator struct {
	synth Synthesizer
	files *storage.ContentStore
}

func NewNarrator(synth Synthesizer, files *storage.ContentStore) *Narrator {
	return &Narrator{synth: synth, files: files}
}

func (n *Narrator) Enabled() bool {
	return n != nil && n.synth != nil && n.files != nil && n.synth.Enabled()
}

// SynthesizeToFile stores the audio for text as <id><ext> and returns the
// file name.
func (n *Narrator) SynthesizeToFile(ctx context.Context, text, id string) (string, error) {
	if !n.Enabled() {
		return "", ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("tts: narration id is required")
	}
	result, err := n.synth.Synthesize(ctx, SpeechRequest{Text: text})
	if err != nil {
		return "", err
	}
	name := id + result.Extension()
	if _, err := n.files.Save(name, result.Audio); err != nil {
		return "", fmt.Errorf("tts: store narration: %w", err)
	}
	return name, nil
}

// PublicPath is the server-relative URL of a narration file.
func (n *Narrator) PublicPath(name string) string {
	if n == nil {
		return ""
	}
	return n.files.PublicPath(name)
}
