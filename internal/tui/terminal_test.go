package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestANSIEscapeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		constant string
		want     string
	}{
		{"ClearScreen", ClearScreen, "\033[2J"},
		{"ClearLine", ClearLine, "\033[K"},
		{"CursorHome", CursorHome, "\033[H"},
		{"CursorHide", CursorHide, "\033[?25l"},
		{"CursorShow", CursorShow, "\033[?25h"},
		{"Reset", Reset, "\033[0m"},
		{"Bold", Bold, "\033[1m"},
		{"Dim", Dim, "\033[2m"},
		{"FgRed", FgRed, "\033[31m"},
		{"FgGreen", FgGreen, "\033[32m"},
		{"FgYellow", FgYellow, "\033[33m"},
		{"FgBrightGreen", FgBrightGreen, "\033[92m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.constant)
		})
	}
}

func TestCursorTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		row, col int
		want     string
	}{
		{"origin", 1, 1, "\033[1;1H"},
		{"row 5 col 10", 5, 10, "\033[5;10H"},
		{"large values", 100, 200, "\033[100;200H"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CursorTo(tt.row, tt.col))
		})
	}
}

func TestTerminalWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Write("hello")
	assert.Equal(t, "hello", buf.String())
}

func TestTerminalClear(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Clear()
	assert.Equal(t, ClearScreen+CursorHome, buf.String())
}

func TestTerminalCursorVisibility(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.HideCursor()
	term.ShowCursor()
	assert.Equal(t, CursorHide+CursorShow, buf.String())
}

func TestTerminalDrawLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.DrawLines([]string{"first", "second"})
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, CursorTo(1, 1)+"first"+ClearLine))
	assert.Contains(t, out, CursorTo(2, 1)+"second"+ClearLine)
	assert.True(t, strings.HasSuffix(out, CursorTo(3, 1)+"\033[J"))
	assert.NotContains(t, out, "\n", "raw mode output is addressed, not line fed")
}

func TestTerminalIsRaw(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(&buf)

	assert.False(t, term.IsRaw())
	assert.NoError(t, term.ExitRaw(), "exit without raw mode is a no-op")
}
