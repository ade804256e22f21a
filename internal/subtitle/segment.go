package subtitle

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// SegmentSpacing is the synthetic gap between segment start times.
	SegmentSpacing = 5.0
	// CharsPerSecond approximates reading speed for synthetic end times.
	CharsPerSecond = 20.0
)

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Split breaks a transcript into sentence segments with synthetic timing.
//
// Sentences end at '.', '!' or '?'. Text without any terminator becomes a
// single segment, and a trailing unterminated remainder becomes the last
// segment. Segment i (0-based) starts at i*SegmentSpacing and lasts
// len(text)/CharsPerSecond seconds. These timings are an approximation: the
// recognizer's word-level timestamps are not consulted.
func Split(transcript string) []Segment {
	var sentences []string
	last := 0
	for _, loc := range sentenceRe.FindAllStringIndex(transcript, -1) {
		sentences = append(sentences, transcript[loc[0]:loc[1]])
		last = loc[1]
	}
	if rest := transcript[last:]; strings.TrimSpace(rest) != "" {
		sentences = append(sentences, rest)
	}

	segments := make([]Segment, 0, len(sentences))
	for _, s := range sentences {
		text := strings.TrimSpace(s)
		if text == "" {
			continue
		}
		i := len(segments)
		start := float64(i) * SegmentSpacing
		segments = append(segments, Segment{
			Index:     i + 1,
			StartTime: start,
			EndTime:   start + float64(utf8.RuneCountInString(text))/CharsPerSecond,
			Text:      text,
		})
	}
	return segments
}

// Sorted returns a copy of segs ordered by Index.
func Sorted(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Validate checks caller-supplied segment content before it replaces a
// stored subtitle. Taken in index order, indexes must run 1..n without gaps,
// every segment must have a positive duration and start times must not
// decrease.
func Validate(segs []Segment) error {
	prevStart := 0.0
	for i, s := range Sorted(segs) {
		if s.Index != i+1 {
			return fmt.Errorf("segment %d: index out of sequence, want %d", s.Index, i+1)
		}
		if s.StartTime < 0 {
			return fmt.Errorf("segment %d: startTime must be >= 0", s.Index)
		}
		if s.EndTime <= s.StartTime {
			return fmt.Errorf("segment %d: endTime must be after startTime", s.Index)
		}
		if s.StartTime < prevStart {
			return fmt.Errorf("segment %d: starts before segment %d", s.Index, i)
		}
		prevStart = s.StartTime
	}
	return nil
}
