package manifest

import "time"

// StoryStatus is the lifecycle position of an asset's narrative.
type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"
	StatusProcessing StoryStatus = "processing"
	StatusReady      StoryStatus = "ready"
	StatusError      StoryStatus = "error"
)

func (s StoryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusError:
		return true
	default:
		return false
	}
}

// StoryState is embedded in every AssetRecord and is never nil on disk.
type StoryState struct {
	Status      StoryStatus `json:"status"`
	Text        string      `json:"text,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Error       string      `json:"error,omitempty"`
	ContextHint *string     `json:"contextHint,omitempty"`
	AudioFile   string      `json:"audioFile,omitempty"`
}

// AssetRecord is one stored photo.
type AssetRecord struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	OriginalName     string     `json:"originalName"`
	OriginalMimeType string     `json:"originalMimeType"`
	MimeType         string     `json:"mimeType"`
	Size             int64      `json:"size"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	Order            int        `json:"order"`
	CreatedAt        time.Time  `json:"createdAt"`
	Context          string     `json:"context"`
	Story            StoryState `json:"story"`
}

// PendingStory is the initial state of a freshly stored asset.
func PendingStory(now time.Time) StoryState {
	return StoryState{Status: StatusPending, UpdatedAt: now}
}

// MarkProcessing moves the story into processing, dropping any previous result.
func (s *StoryState) MarkProcessing(now time.Time, contextHint string) {
	hint := contextHint
	s.Status = StatusProcessing
	s.Text = ""
	s.Error = ""
	s.ContextHint = &hint
	s.UpdatedAt = now
}

// MarkReady stores a finished narrative. An empty text is recorded as an error
// so that ready always carries text.
func (s *StoryState) MarkReady(now time.Time, text, prompt string) {
	if text == "" {
		s.MarkError(now, "story generator returned empty text", prompt)
		return
	}
	s.Status = StatusReady
	s.Text = text
	s.Prompt = prompt
	s.Error = ""
	s.UpdatedAt = now
}

// MarkError records a failed attempt.
func (s *StoryState) MarkError(now time.Time, message, prompt string) {
	if message == "" {
		message = "story generation failed"
	}
	s.Status = StatusError
	s.Text = ""
	s.Error = message
	if prompt != "" {
		s.Prompt = prompt
	}
	s.UpdatedAt = now
}

// normalize restores the invariants on records read from disk.
func (s *StoryState) normalize() {
	if !s.Status.Valid() {
		s.Status = StatusPending
	}
	if s.Status == StatusReady && s.Text == "" {
		s.Status = StatusPending
	}
	if s.Status == StatusError && s.Error == "" {
		s.Error = "story generation failed"
	}
	if s.Status != StatusReady {
		s.Text = ""
	}
	if s.Status != StatusError {
		s.Error = ""
	}
}

func (r AssetRecord) clone() AssetRecord {
	out := r
	if r.Story.ContextHint != nil {
		hint := *r.Story.ContextHint
		out.Story.ContextHint = &hint
	}
	return out
}
