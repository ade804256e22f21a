package subtitle

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ToSRT renders segments as an SRT document using the transliterated text.
// Segments are emitted in index order; the input slice is not modified.
func ToSRT(segs []Segment) string {
	blocks := make([]string, 0, len(segs))
	for _, s := range Sorted(segs) {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s\n",
			s.Index, FormatTime(s.StartTime), FormatTime(s.EndTime), s.Transliterated))
	}
	return strings.Join(blocks, "\n")
}

// FormatTime formats seconds as an SRT timecode, e.g. 65.5 -> 00:01:05,500.
func FormatTime(seconds float64) string {
	hours := math.Floor(seconds / 3600)
	minutes := math.Floor(math.Mod(seconds, 3600) / 60)
	secs := math.Floor(math.Mod(seconds, 60))
	millis := math.Floor(math.Mod(seconds, 1) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", int(hours), int(minutes), int(secs), int(millis))
}

var unsafeFilenameRe = regexp.MustCompile(`(?i)[^a-z0-9]`)

// ExportFilename derives the download filename for a subtitle title.
func ExportFilename(title string) string {
	return strings.ToLower(unsafeFilenameRe.ReplaceAllString(title, "_")) + ".srt"
}
