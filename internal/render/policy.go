package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"vocalytics/internal/models"
)

// PolicyKind selects how timestamp anchors are spaced through a transcript.
type PolicyKind int

const (
	// PolicyIndexModulo anchors every Nth segment.
	PolicyIndexModulo PolicyKind = iota
	// PolicyTimeGap anchors a segment once enough media time has passed
	// since the last anchor.
	PolicyTimeGap
)

// AnchorPolicy decides which segments get a clickable timestamp.
type AnchorPolicy struct {
	Kind  PolicyKind
	Every int
	Gap   time.Duration
}

// IndexModulo anchors index 0 and every index divisible by n.
func IndexModulo(n int) AnchorPolicy {
	return AnchorPolicy{Kind: PolicyIndexModulo, Every: n}
}

// TimeGap anchors index 0 and any segment starting at least gap after the
// previous anchor.
func TimeGap(gap time.Duration) AnchorPolicy {
	return AnchorPolicy{Kind: PolicyTimeGap, Gap: gap}
}

// DefaultDetailPolicy and DefaultViewerPolicy are the spacings used by the
// detail page and the live viewer.
var (
	DefaultDetailPolicy = IndexModulo(106)
	DefaultViewerPolicy = TimeGap(180 * time.Second)
)

func (p AnchorPolicy) String() string {
	switch p.Kind {
	case PolicyTimeGap:
		return "timegap:" + p.Gap.String()
	default:
		return "index:" + strconv.Itoa(p.Every)
	}
}

// ParsePolicy reads "index:<n>" or "timegap:<duration>". A bare number of
// seconds is accepted for timegap.
func ParsePolicy(s string) (AnchorPolicy, error) {
	kind, arg, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if !ok || arg == "" {
		return AnchorPolicy{}, fmt.Errorf("anchor policy %q: want index:<n> or timegap:<duration>", s)
	}
	switch kind {
	case "index":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return AnchorPolicy{}, fmt.Errorf("anchor policy %q: index must be a positive integer", s)
		}
		return IndexModulo(n), nil
	case "timegap":
		gap, err := time.ParseDuration(arg)
		if err != nil {
			secs, serr := strconv.ParseFloat(arg, 64)
			if serr != nil {
				return AnchorPolicy{}, fmt.Errorf("anchor policy %q: %w", s, err)
			}
			gap = time.Duration(secs * float64(time.Second))
		}
		if gap <= 0 {
			return AnchorPolicy{}, fmt.Errorf("anchor policy %q: gap must be positive", s)
		}
		return TimeGap(gap), nil
	default:
		return AnchorPolicy{}, fmt.Errorf("anchor policy %q: unknown kind %q", s, kind)
	}
}

// Anchors reports, per segment, whether an anchor precedes it.
func (p AnchorPolicy) Anchors(segments []models.Segment) []bool {
	out := make([]bool, len(segments))
	if len(segments) == 0 {
		return out
	}
	out[0] = true
	last := 0
	for i := 1; i < len(segments); i++ {
		switch p.Kind {
		case PolicyTimeGap:
			// An untimed reference moves to the next timed segment, which
			// does not get an anchor of its own. An untimed segment never
			// opens an anchor since NaN compares false.
			if !segments[last].HasStart() {
				if segments[i].HasStart() {
					last = i
				}
				continue
			}
			if segments[i].Start-segments[last].Start >= p.Gap.Seconds() {
				out[i] = true
				last = i
			}
		default:
			if p.Every > 0 && i%p.Every == 0 {
				out[i] = true
			}
		}
	}
	return out
}
