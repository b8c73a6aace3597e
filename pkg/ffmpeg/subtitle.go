package ffmpeg

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// ChunkSubtitles greedily packs words into cues of at most maxChars characters. Cue N starts
// at N*chunk and lasts chunk, both capped at total when total is positive. A single word longer
// than maxChars is split into maxChars-rune pieces, so joining the cue texts with one space
// reproduces the input only when no word exceeds maxChars.
func ChunkSubtitles(text string, maxChars int, chunk, total time.Duration) []Cue {
	words := strings.Fields(text)
	if len(words) == 0 || maxChars <= 0 {
		return nil
	}

	var lines []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, w := range words {
		for _, piece := range splitRunes(w, maxChars) {
			n := len([]rune(piece))
			switch {
			case curLen == 0:
			case curLen+1+n <= maxChars:
				cur.WriteByte(' ')
				curLen++
			default:
				flush()
			}
			cur.WriteString(piece)
			curLen += n
		}
	}
	flush()

	cues := make([]Cue, len(lines))
	for i, line := range lines {
		start := time.Duration(i) * chunk
		end := start + chunk
		if total > 0 {
			start = min(start, total)
			end = min(end, total)
		}
		cues[i] = Cue{Index: i + 1, Start: start, End: end, Text: line}
	}
	return cues
}

func splitRunes(word string, n int) []string {
	r := []rune(word)
	if len(r) <= n {
		return []string{word}
	}
	pieces := make([]string, 0, len(r)/n+1)
	for len(r) > n {
		pieces = append(pieces, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		pieces = append(pieces, string(r))
	}
	return pieces
}

// FormatSRT renders cues as a SubRip document.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for _, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", c.Index, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

func srtTimestamp(d time.Duration) string {
	ms := int64(math.Round(float64(d) / float64(time.Millisecond)))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
