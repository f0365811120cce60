package render

import (
	"fmt"
	"math"
	"strings"

	"vocalytics/internal/models"
)

// InvalidTime labels an anchor whose segment has no parseable start time.
const InvalidTime = "Invalid time"

// Clock selects the anchor label format.
type Clock int

const (
	// ClockHMS renders 00:03:07.
	ClockHMS Clock = iota
	// ClockMinSec renders 3:07.
	ClockMinSec
)

// Options configures Render.
type Options struct {
	Policy AnchorPolicy
	Clock  Clock
}

// Anchor is a clickable timestamp that seeks the media to Seconds.
type Anchor struct {
	Label   string
	Seconds float64
	Valid   bool
}

// Piece is one displayable unit: an optional anchor, the segment text and an
// optional line break after it.
type Piece struct {
	Index  int
	Anchor *Anchor
	Text   string
	Break  bool
}

// ID is the DOM id used to scroll a piece into view.
func (p Piece) ID() string {
	return fmt.Sprintf("segment-%d", p.Index)
}

// Render lays out segments for display.
func Render(segments []models.Segment, opts Options) []Piece {
	anchors := opts.Policy.Anchors(segments)
	pieces := make([]Piece, len(segments))
	for i, seg := range segments {
		content := strings.ReplaceAll(seg.Content, "\n", " ")
		p := Piece{
			Index: i,
			Text:  content + " ",
			Break: EndsSentence(content),
		}
		if anchors[i] {
			p.Anchor = &Anchor{
				Label:   FormatTime(seg.Start, opts.Clock),
				Seconds: seg.Start,
				Valid:   seg.HasStart(),
			}
		}
		pieces[i] = p
	}
	return pieces
}

// EndsSentence reports whether text ends in ., ! or ?.
func EndsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")
}

// FormatTime renders seconds with the given clock. NaN renders InvalidTime.
func FormatTime(seconds float64, clock Clock) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return InvalidTime
	}
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	switch clock {
	case ClockMinSec:
		return fmt.Sprintf("%d:%02d", total/60, total%60)
	default:
		return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
	}
}

// Highlight returns the index of the segment playing at time t: the segment
// whose start is <= t and whose next timed successor starts after t. Segments
// without a start time are skipped. It returns -1 when no segment matches.
func Highlight(segments []models.Segment, t float64) int {
	if math.IsNaN(t) {
		return -1
	}
	for i, seg := range segments {
		if !seg.HasStart() || seg.Start > t {
			continue
		}
		next, ok := nextTimed(segments, i)
		if !ok || next > t {
			return i
		}
	}
	return -1
}

func nextTimed(segments []models.Segment, i int) (float64, bool) {
	for j := i + 1; j < len(segments); j++ {
		if segments[j].HasStart() {
			return segments[j].Start, true
		}
	}
	return 0, false
}
