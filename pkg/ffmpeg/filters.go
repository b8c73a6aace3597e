package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"worker-walkthrough/constant"
)

const (
	FrameRate   = 30
	PixelFormat = "yuv420p"
	LogoPadding = 40
)

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ResolutionFor maps an aspect ratio to the output frame size. Unknown ratios fall back to
// vertical 9:16.
func ResolutionFor(aspectRatio string) Resolution {
	switch aspectRatio {
	case "16:9":
		return Resolution{1920, 1080}
	case "1:1":
		return Resolution{1080, 1080}
	case "4:5":
		return Resolution{1080, 1350}
	default:
		return Resolution{1080, 1920}
	}
}

// CrossfadeOffsets returns the offset of every fade in a chain over clips with the given
// durations. Fade k (1-based) starts at sum(d[0..k-1]) - (k-1)*fade - fade, which keeps the
// offsets aligned to the shrinking combined timeline.
func CrossfadeOffsets(durations []float64, fade float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, 0, len(durations)-1)
	cumulative := 0.0
	for k := 1; k < len(durations); k++ {
		cumulative += durations[k-1]
		offset := cumulative - float64(k-1)*fade - fade
		if offset < 0 {
			offset = 0
		}
		offsets = append(offsets, offset)
	}
	return offsets
}

// CrossfadeDuration is the length of the chained output.
func CrossfadeDuration(durations []float64, fade float64) float64 {
	total := 0.0
	for _, d := range durations {
		total += d
	}
	if len(durations) > 1 {
		total -= float64(len(durations)-1) * fade
	}
	return total
}

func normalize(input int, res Resolution) string {
	return fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=%s[v%d]",
		input, res.Width, res.Height, res.Width, res.Height, FrameRate, PixelFormat, input)
}

// CrossfadeGraph normalizes every input stream and chains pairwise xfade filters. The
// output label is [vout].
func CrossfadeGraph(durations []float64, fade float64, res Resolution) string {
	parts := make([]string, 0, 2*len(durations))
	for i := range durations {
		parts = append(parts, normalize(i, res))
	}

	prev := "[v0]"
	for k, offset := range CrossfadeOffsets(durations, fade) {
		out := fmt.Sprintf("[x%d]", k+1)
		if k == len(durations)-2 {
			out = "[vout]"
		}
		parts = append(parts, fmt.Sprintf("%s[v%d]xfade=transition=fade:duration=%s:offset=%s%s",
			prev, k+1, formatSeconds(fade), formatSeconds(offset), out))
		prev = out
	}
	return strings.Join(parts, ";")
}

// ConcatGraph normalizes every input stream and joins them back to back with the concat
// filter. The output label is [vout].
func ConcatGraph(n int, res Resolution) string {
	parts := make([]string, 0, n+1)
	var labels strings.Builder
	for i := 0; i < n; i++ {
		parts = append(parts, normalize(i, res))
		fmt.Fprintf(&labels, "[v%d]", i)
	}
	parts = append(parts, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[vout]", labels.String(), n))
	return strings.Join(parts, ";")
}

// ReencodeFilter scales a single clip to the output frame size.
func ReencodeFilter(res Resolution) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=%s",
		res.Width, res.Height, res.Width, res.Height, FrameRate, PixelFormat)
}

// OverlayFilter places input 1 on a corner of input 0 with a fixed padding.
func OverlayFilter(pos constant.LogoPosition, padding int) string {
	var x, y string
	switch pos {
	case constant.LogoTopLeft:
		x, y = strconv.Itoa(padding), strconv.Itoa(padding)
	case constant.LogoTopRight:
		x, y = fmt.Sprintf("main_w-overlay_w-%d", padding), strconv.Itoa(padding)
	case constant.LogoBottomLeft:
		x, y = strconv.Itoa(padding), fmt.Sprintf("main_h-overlay_h-%d", padding)
	default:
		x, y = fmt.Sprintf("main_w-overlay_w-%d", padding), fmt.Sprintf("main_h-overlay_h-%d", padding)
	}
	return fmt.Sprintf("[0:v][1:v]overlay=%s:%s[vout]", x, y)
}

// SubtitleFilter burns srtPath into the video. Characters in font outside letters, digits,
// spaces, '-', '_' and '.' are dropped since they would end the quoted style.
func SubtitleFilter(srtPath, font string, fontSize int) string {
	font = safeFontName(font)
	if font == "" {
		font = "Arial"
	}
	if fontSize <= 0 {
		fontSize = 18
	}
	return fmt.Sprintf(
		"subtitles=%s:force_style='FontName=%s,FontSize=%d,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Alignment=2,MarginV=60'",
		escapeFilterPath(srtPath), font, fontSize,
	)
}

// escapeFilterPath escapes characters the filter graph parser treats specially.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "\\'")
	return path
}

func safeFontName(font string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, font)
	return strings.TrimSpace(clean)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
