package tui

import (
	"time"
)

// fadeTime is how long before expiry a notification starts to fade.
const fadeTime = time.Second

// Notification is a short message shown on the HUD for a limited time.
type Notification struct {
	Text  string
	until time.Time
}

// Set shows text from now for d.
func (n *Notification) Set(text string, d time.Duration, now time.Time) {
	n.Text = text
	n.until = now.Add(d)
}

// Active reports whether the notification is still visible at now.
func (n *Notification) Active(now time.Time) bool {
	return n.Text != "" && now.Before(n.until)
}

// Render returns the styled notification line for now, or "" once it has
// expired. It is drawn dim during the last second.
func (n *Notification) Render(now time.Time, width int) string {
	if !n.Active(now) {
		return ""
	}
	text := CenterText(Truncate(n.Text, width), width)
	if n.until.Sub(now) <= fadeTime {
		return Style(text, Dim)
	}
	return Style(text, Bold, FgBrightWhite)
}

// rateMeter measures events per second over a sliding window.
type rateMeter struct {
	times  []time.Time
	counts []uint64
}

const rateWindow = 30

// add records that count reached value at t.
func (m *rateMeter) add(t time.Time, count uint64) {
	m.times = append(m.times, t)
	m.counts = append(m.counts, count)
	if len(m.times) > rateWindow {
		m.times = m.times[1:]
		m.counts = m.counts[1:]
	}
}

// rate returns the count increase per second across the window.
func (m *rateMeter) rate() float64 {
	n := len(m.times)
	if n < 2 {
		return 0
	}
	elapsed := m.times[n-1].Sub(m.times[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.counts[n-1]-m.counts[0]) / elapsed
}
