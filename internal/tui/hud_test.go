package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestHUD(buf *bytes.Buffer) (*HUD, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h := NewHUD(NewTerminal(buf), 1280, 720)
	h.now = func() time.Time { return now }
	h.size = func() (int, int, error) { return 0, 0, errors.New("not a terminal") }
	return h, &now
}

func TestGridSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		w, h       int
		cols, rows int
	}{
		{"default resolution", 1280, 720, 80, 36},
		{"small", 320, 120, minCols, minRows},
		{"wide", 1920, 1080, 120, 54},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cols, rows := GridSize(tt.w, tt.h)
			assert.Equal(t, tt.cols, cols)
			assert.Equal(t, tt.rows, rows)
		})
	}
}

func TestHUD_DrawsOnlyAfterStart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, _ := newTestHUD(&buf)

	h.Update(sampleTelemetry())
	assert.Zero(t, buf.Len())

	h.Start()
	h.Update(sampleTelemetry())
	assert.Contains(t, buf.String(), "Town01")

	assert.NoError(t, h.Close())
	assert.True(t, strings.HasSuffix(buf.String(), CursorShow+"\r\n"))

	buf.Reset()
	h.Update(sampleTelemetry())
	assert.Zero(t, buf.Len(), "closed HUD does not draw")
	assert.NoError(t, h.Close())
}

func TestHUD_Lines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, _ := newTestHUD(&buf)
	h.Update(sampleTelemetry())

	lines := h.Lines()
	assert.Empty(t, lines[0], "no notification")
	assert.Equal(t, "┌", string([]rune(lines[1])[0]))
	for _, line := range lines[1:] {
		assert.Equal(t, 80, VisibleWidth(line))
	}
	assert.LessOrEqual(t, len(lines), 36)
}

func TestHUD_Toggles(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, _ := newTestHUD(&buf)
	h.Update(sampleTelemetry())

	withInfo := strings.Join(h.Lines(), "\n")
	assert.Contains(t, withInfo, "Town01")
	assert.NotContains(t, withInfo, "toggle help")

	h.ToggleHelp()
	assert.Contains(t, strings.Join(h.Lines(), "\n"), "toggle help")

	h.ToggleInfo()
	text := strings.Join(h.Lines(), "\n")
	assert.NotContains(t, text, "Town01")
	assert.Contains(t, text, "toggle help")

	h.ToggleHelp()
	assert.Equal(t, []string{""}, h.Lines())
}

func TestHUD_Notify(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, now := newTestHUD(&buf)
	h.Notify("Target reached", 4*time.Second)
	assert.Contains(t, h.Lines()[0], "Target reached")

	*now = now.Add(5 * time.Second)
	assert.Empty(t, h.Lines()[0])
}

func TestHUD_FrameRates(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, now := newTestHUD(&buf)

	// Two frames per update at ten updates per second.
	for i := 0; i < 11; i++ {
		tel := sampleTelemetry()
		tel.Frame = uint64(2 * i)
		h.Update(tel)
		*now = now.Add(100 * time.Millisecond)
	}

	text := strings.Join(h.Lines(), "\n")
	assert.Contains(t, text, "Server:            20 FPS")
	assert.Contains(t, text, "Client:            10 FPS")
}

func TestNopHUD(t *testing.T) {
	t.Parallel()

	var h NopHUD
	h.Update(Telemetry{})
	h.Notify("x", time.Second)
	assert.NoError(t, h.Close())
}
