package llm

import (
	"errors"
	"strings"
)

var ErrEmptyResponse = errors.New("llm: provider returned no text")

// Part is one content part of a provider reply.
type Part struct {
	Text    string
	Thought bool
}

// Response is the provider-neutral reply. Adapters fill whichever shapes the
// provider produced: a direct text accessor, a nested wrapper, or a list of
// content parts. Callers only see the text returned by ExtractText.
type Response struct {
	Provider string
	Model    string

	Text  string
	Inner *Response
	Parts []Part
}

type extractor func(Response) string

// extractors is a function so nestedText can recurse through ExtractText
// without an initialization cycle.
func extractors() []extractor {
	return []extractor{directText, nestedText, concatenatedParts}
}

// ExtractText tries each response shape in order and returns the first
// non-empty text.
func ExtractText(resp Response) (string, error) {
	for _, fn := range extractors() {
		if text := strings.TrimSpace(fn(resp)); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyResponse
}

func directText(resp Response) string {
	return resp.Text
}

func nestedText(resp Response) string {
	if resp.Inner == nil {
		return ""
	}
	text, err := ExtractText(*resp.Inner)
	if err != nil {
		return ""
	}
	return text
}

func concatenatedParts(resp Response) string {
	var b strings.Builder
	for _, p := range resp.Parts {
		if p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
