package transcribe

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"vocalytics/internal/apperr"
	"vocalytics/internal/models"
)

// Document is the transcription service's JSON result.
type Document struct {
	JobName string  `json:"jobName"`
	Status  string  `json:"status"`
	Results Results `json:"results"`
}

// Results holds the full transcript and the per-item breakdown.
type Results struct {
	Transcripts []Transcript `json:"transcripts"`
	Items       []Item       `json:"items"`
}

// Transcript is one full-text alternative.
type Transcript struct {
	Transcript string `json:"transcript"`
}

// Item is a word or punctuation mark. Punctuation items carry no start time.
type Item struct {
	StartTime    string        `json:"start_time"`
	EndTime      string        `json:"end_time"`
	Type         string        `json:"type"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is a recognition candidate for an item.
type Alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// Result is a validated transcript ready to render and persist.
type Result struct {
	Text     string
	Segments []models.Segment
}

// ParseResult decodes and validates a result document. Any structural
// problem is reported as apperr.ErrMalformedResult.
func ParseResult(data []byte) (*Result, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedResult, err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return nil, fmt.Errorf("%w: no transcripts", apperr.ErrMalformedResult)
	}

	segments := make([]models.Segment, 0, len(doc.Results.Items))
	last := math.Inf(-1)
	for i, item := range doc.Results.Items {
		if len(item.Alternatives) == 0 {
			return nil, fmt.Errorf("%w: item %d has no alternatives", apperr.ErrMalformedResult, i)
		}
		start := parseStart(item.StartTime)
		if !math.IsNaN(start) {
			if start < last {
				return nil, fmt.Errorf("%w: item %d starts at %v before %v", apperr.ErrMalformedResult, i, start, last)
			}
			last = start
		}
		segments = append(segments, models.Segment{
			Start:   start,
			Content: item.Alternatives[0].Content,
		})
	}

	return &Result{
		Text:     doc.Results.Transcripts[0].Transcript,
		Segments: segments,
	}, nil
}

func parseStart(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
