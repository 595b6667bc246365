package story

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	narratorPersona = "You are a warm, cinematic narrator who turns a single photograph into a short spoken memory. " +
		"Speak in the second person, present tense, as if walking the listener back into the moment."
	lengthConstraint = "Write between 90 and 140 words as one paragraph of plain prose. No title, no lists, no markdown, no hashtags."
)

// PromptInput carries everything the prompt is built from.
type PromptInput struct {
	Context  string
	Title    string
	Position int
	Total    int
}

// BuildPrompt returns the instruction sent alongside the image. Equal inputs
// always give the same prompt.
func BuildPrompt(in PromptInput) string {
	lines := []string{narratorPersona, lengthConstraint}

	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		lines = append(lines, fmt.Sprintf("The person who took this photo described it as: %q. Make that the emotional center of the story.", ctx))
	} else {
		lines = append(lines, "No description was given; infer the mood from what you can see.")
	}

	if phrase := positionPhrase(in.Position, in.Total); phrase != "" {
		lines = append(lines, phrase)
	}

	if title := titleHint(in.Title); title != "" {
		lines = append(lines, fmt.Sprintf("The original file was named %q; treat it only as a weak hint.", title))
	}

	lines = append(lines, "Describe only what is plausible from the image and the description. Do not invent names.")
	return strings.Join(lines, "\n\n")
}

func positionPhrase(position, total int) string {
	if position <= 0 {
		return ""
	}
	switch {
	case total <= 0:
		return fmt.Sprintf("This is memory number %d in a walk through the past.", position)
	case position == 1 && total > 1:
		return fmt.Sprintf("This is the first of %d memories, so it opens the journey.", total)
	case position == total && total > 1:
		return fmt.Sprintf("This is the last of %d memories, so let it close the journey gently.", total)
	default:
		return fmt.Sprintf("This is memory %d of %d in a walk through the past.", position, total)
	}
}

func titleHint(name string) string {
	base := strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// SummaryPrompt is the legacy batch prompt turning several memory contexts
// into one narrative.
func SummaryPrompt(memories []string) string {
	kept := make([]string, 0, len(memories))
	for _, m := range memories {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return "Turn these memories into a short narrative:\n" + strings.Join(kept, "\n")
}
