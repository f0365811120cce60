package models

import (
	"encoding/json"
	"math"
	"time"
)

// JobStatus mirrors the transcription service job states.
type JobStatus string

const (
	StatusSubmitted  JobStatus = "SUBMITTED"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	// StatusCancelled is local only: polling stopped before a terminal state.
	StatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the external job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	ContentTypeMP3 = "audio/mpeg"
	ContentTypeMP4 = "video/mp4"
)

// MediaRef points at an uploaded media object.
type MediaRef struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// TranscriptionJob is the application's view of an external job.
type TranscriptionJob struct {
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	LanguageCode  string    `json:"language_code"`
	Media         MediaRef  `json:"media"`
	Status        JobStatus `json:"status"`
	OutputURI     string    `json:"output_uri,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Segment is one time-anchored fragment of transcript text. Start is NaN
// when the source item had no usable start time.
type Segment struct {
	Start   float64 `json:"start"`
	Content string  `json:"content"`
}

// HasStart reports whether the segment carries a parseable start time.
func (s Segment) HasStart() bool {
	return !math.IsNaN(s.Start)
}

type wireSegment struct {
	Start   *float64 `json:"start"`
	Content string   `json:"content"`
}

// MarshalJSON encodes a missing start time as null.
func (s Segment) MarshalJSON() ([]byte, error) {
	w := wireSegment{Content: s.Content}
	if s.HasStart() {
		start := s.Start
		w.Start = &start
	}
	return json.Marshal(w)
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var w wireSegment
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Content = w.Content
	s.Start = math.NaN()
	if w.Start != nil {
		s.Start = *w.Start
	}
	return nil
}

// TranscriptRecord is the persisted result of a completed job.
type TranscriptRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
	MediaKey  string    `json:"media_key,omitempty"`
}

// RecordSummary is a dashboard row.
type RecordSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment annotates a selection of a transcript.
type Comment struct {
	ID           string    `json:"id"`
	TranscriptID string    `json:"transcript_id"`
	SelectionID  string    `json:"selection_id"`
	Owner        string    `json:"owner"`
	Anchor       string    `json:"anchor"`
	AnchorTime   float64   `json:"anchor_time"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProgressEvent is sent to job viewers over WebSocket.
type ProgressEvent struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	Message       string    `json:"message,omitempty"`
	TranscriptURL string    `json:"transcript_url,omitempty"`
	DetailURL     string    `json:"detail_url,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// PlaybackPosition is sent by the detail page on every media time update.
type PlaybackPosition struct {
	Time float64 `json:"t"`
}

// Highlight answers a PlaybackPosition with the segment to mark.
type Highlight struct {
	Index int `json:"index"`
}
