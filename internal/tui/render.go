package tui

import (
	"strings"
	"unicode/utf8"
)

// Box drawing characters (Unicode)
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
)

// BoxWithContent draws a box containing the given content lines.
// Each line is padded/truncated to fit within the box.
func BoxWithContent(width int, content []string) []string {
	if width < 4 {
		return nil
	}

	innerWidth := width - 4 // Account for borders and padding
	height := len(content) + 2

	lines := make([]string, height)
	lines[0] = BoxTopLeft + strings.Repeat(BoxHorizontal, width-2) + BoxTopRight
	for i, line := range content {
		lines[i+1] = BoxVertical + " " + PadOrTruncate(line, innerWidth) + " " + BoxVertical
	}
	lines[height-1] = BoxBottomLeft + strings.Repeat(BoxHorizontal, width-2) + BoxBottomRight

	return lines
}

// VisibleWidth returns the number of runes in s that take up screen space,
// skipping ANSI escape sequences.
func VisibleWidth(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
		case r == '\033':
			inEscape = true
		default:
			n++
		}
	}
	return n
}

// PadOrTruncate pads or truncates a string to exactly width characters.
// Styled strings are padded but never cut, so that escape sequences stay
// intact.
func PadOrTruncate(s string, width int) string {
	if width <= 0 {
		return ""
	}

	visible := VisibleWidth(s)
	if visible == width {
		return s
	}
	if visible < width {
		return s + strings.Repeat(" ", width-visible)
	}
	if visible != utf8.RuneCountInString(s) {
		return s
	}
	return Truncate(s, width)
}

// Truncate truncates a string to max width, adding ellipsis if needed.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= width {
		return s
	}

	if width >= 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// CenterText centers text within the given width.
func CenterText(s string, width int) string {
	runeLen := VisibleWidth(s)
	if runeLen >= width {
		return PadOrTruncate(s, width)
	}

	leftPad := (width - runeLen) / 2
	rightPad := width - runeLen - leftPad

	return strings.Repeat(" ", leftPad) + s + strings.Repeat(" ", rightPad)
}

// Bar renders value on a bar of width cells spanning [lo, hi]. A range that
// includes zero in its interior (steering) is drawn as a marker; otherwise
// the bar fills from the left.
func Bar(value, lo, hi float64, width int) string {
	if width < 3 || hi <= lo {
		return ""
	}
	inner := width - 2
	if value < lo {
		value = lo
	}
	if value > hi {
		value = hi
	}
	pos := int((value - lo) / (hi - lo) * float64(inner))
	if pos > inner {
		pos = inner
	}

	if lo < 0 && hi > 0 {
		if pos == inner {
			pos = inner - 1
		}
		return "[" + strings.Repeat("░", pos) + "█" + strings.Repeat("░", inner-pos-1) + "]"
	}
	return "[" + strings.Repeat("█", pos) + strings.Repeat("░", inner-pos) + "]"
}

// Style applies ANSI style codes to text.
func Style(s string, codes ...string) string {
	if len(codes) == 0 {
		return s
	}
	return strings.Join(codes, "") + s + Reset
}

// StatusColor returns an appropriate color code for a run status.
func StatusColor(status string) string {
	switch strings.ToLower(status) {
	case "running":
		return FgGreen
	case "completed", "frame_limit":
		return FgBrightGreen
	case "faulted":
		return FgRed
	case "interrupted":
		return FgYellow
	default:
		return ""
	}
}

// FormatStatus formats a status string with appropriate color.
func FormatStatus(status string) string {
	color := StatusColor(status)
	if color == "" {
		return status
	}
	return Style(status, color, Bold)
}
