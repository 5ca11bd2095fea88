// Package tui draws the heads-up display of a run on a raw terminal and
// reads the keys that control it.
package tui

import (
	"sync"
	"time"
)

// Grid cell size in pixels used to map a requested resolution onto
// terminal columns and rows.
const (
	CellWidth  = 16
	CellHeight = 20

	minCols = 40
	minRows = 12
)

// GridSize maps a display resolution in pixels to terminal cells.
func GridSize(widthPx, heightPx int) (cols, rows int) {
	return max(minCols, widthPx/CellWidth), max(minRows, heightPx/CellHeight)
}

// HUD renders Telemetry as an info panel with an optional help panel and
// a fading notification line.
type HUD struct {
	mu       sync.Mutex
	terminal *Terminal
	cols     int
	rows     int
	now      func() time.Time
	size     func() (int, int, error)

	showInfo bool
	showHelp bool
	notice   Notification
	last     Telemetry
	server   rateMeter
	client   rateMeter
	updates  uint64
	started  bool
}

// NewHUD creates a HUD drawing on terminal within a grid derived from the
// given resolution.
func NewHUD(terminal *Terminal, widthPx, heightPx int) *HUD {
	cols, rows := GridSize(widthPx, heightPx)
	return &HUD{
		terminal: terminal,
		cols:     cols,
		rows:     rows,
		now:      time.Now,
		size:     terminal.Size,
		showInfo: true,
	}
}

// Start clears the screen and hides the cursor.
func (h *HUD) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminal.Clear()
	h.terminal.HideCursor()
	h.started = true
}

// Update records a new cycle and redraws.
func (h *HUD) Update(t Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.updates++
	h.server.add(now, t.Frame)
	h.client.add(now, h.updates)
	h.last = t
	h.drawLocked()
}

// Notify shows text for d.
func (h *HUD) Notify(text string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notice.Set(text, d, h.now())
	h.drawLocked()
}

// ToggleInfo shows or hides the info panel.
func (h *HUD) ToggleInfo() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.showInfo = !h.showInfo
	h.drawLocked()
}

// ToggleHelp shows or hides the help panel.
func (h *HUD) ToggleHelp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.showHelp = !h.showHelp
	h.drawLocked()
}

// Lines returns the current screen content.
func (h *HUD) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linesLocked()
}

func (h *HUD) linesLocked() []string {
	width, rows := h.cols, h.rows
	if w, ht, err := h.size(); err == nil {
		width = max(minCols, min(width, w))
		rows = max(minRows, min(rows, ht))
	}
	barWidth := max(10, min(30, width-14))

	// The notification row stays on top so the panels never move.
	lines := []string{h.notice.Render(h.now(), width)}
	if h.showInfo {
		lines = append(lines, BoxWithContent(width, InfoLines(h.last, h.server.rate(), h.client.rate(), barWidth))...)
	}
	if h.showHelp {
		lines = append(lines, BoxWithContent(width, HelpLines())...)
	}
	if len(lines) > rows {
		lines = lines[:rows]
	}
	return lines
}

func (h *HUD) drawLocked() {
	if !h.started {
		return
	}
	h.terminal.DrawLines(h.linesLocked())
}

// Close restores the cursor and leaves the cursor below the HUD.
func (h *HUD) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil
	}
	h.started = false
	h.terminal.Write(Reset)
	h.terminal.ShowCursor()
	h.terminal.Write("\r\n")
	return nil
}

// NopHUD discards all drawing. It is used in headless mode.
type NopHUD struct{}

// Update does nothing.
func (NopHUD) Update(Telemetry) {}

// Notify does nothing.
func (NopHUD) Notify(string, time.Duration) {}

// Close does nothing.
func (NopHUD) Close() error { return nil }
