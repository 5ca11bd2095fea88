package record

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Summary aggregates a recording.
type Summary struct {
	Records      int
	FirstFrame   uint64
	LastFrame    uint64
	SimSeconds   float64
	DistanceM    float64
	MaxSpeedKmh  float64
	MeanSpeedKmh float64
	Events       map[string]int
}

// Summarize computes the Summary of records, which must be in cycle order.
func Summarize(records []Record) Summary {
	s := Summary{Records: len(records), Events: map[string]int{}}
	if len(records) == 0 {
		return s
	}

	first, last := records[0], records[len(records)-1]
	s.FirstFrame = first.Frame
	s.LastFrame = last.Frame
	s.SimSeconds = last.ElapsedSeconds - first.ElapsedSeconds

	var speedSum float64
	for i, r := range records {
		speedSum += r.SpeedKmh
		s.MaxSpeedKmh = max(s.MaxSpeedKmh, r.SpeedKmh)
		if i > 0 {
			s.DistanceM += r.Location.Distance2D(records[i-1].Location)
		}
		if r.Event != "" {
			s.Events[r.Event]++
		}
	}
	s.MeanSpeedKmh = speedSum / float64(len(records))
	return s
}

// String formats the summary for the terminal.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Records:    %d\n", s.Records)
	fmt.Fprintf(&b, "Frames:     %d..%d\n", s.FirstFrame, s.LastFrame)
	fmt.Fprintf(&b, "Sim time:   %.1f s\n", s.SimSeconds)
	fmt.Fprintf(&b, "Distance:   %.1f m\n", s.DistanceM)
	fmt.Fprintf(&b, "Max speed:  %.1f km/h\n", s.MaxSpeedKmh)
	fmt.Fprintf(&b, "Mean speed: %.1f km/h\n", s.MeanSpeedKmh)
	for _, kind := range slices.Sorted(maps.Keys(s.Events)) {
		fmt.Fprintf(&b, "Event %-12s %d\n", kind+":", s.Events[kind])
	}
	return b.String()
}
