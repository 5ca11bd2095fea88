package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/thruflo/autodrive/internal/sim"
)

// Telemetry is the state drawn by the HUD for one cycle.
type Telemetry struct {
	Cycle         int
	Frame         uint64
	SimSeconds    float64
	Map           string
	Agent         string
	Vehicle       string
	Status        string
	Speed         float64 // km/h
	Heading       float64 // degrees
	Location      sim.Location
	HasGNSS       bool
	Lat, Lon      float64
	Control       sim.VehicleControl
	Collisions    int
	LaneInvasions int
	Nearby        []Nearby
	Destination   *sim.Location
}

// Nearby is another vehicle close to the player.
type Nearby struct {
	Distance float64
	TypeID   string
}

// maxNearby bounds the nearby vehicle list.
const maxNearby = 5

// Compass returns the cardinal letters for a yaw in degrees.
func Compass(yaw float64) string {
	var s string
	if math.Abs(yaw) < 89.5 {
		s += "N"
	}
	if math.Abs(yaw) > 90.5 {
		s += "S"
	}
	if yaw > 0.5 && yaw < 179.5 {
		s += "E"
	}
	if yaw < -0.5 && yaw > -179.5 {
		s += "W"
	}
	return s
}

// vehicleName turns "vehicle.tesla.model3" into "Tesla Model3".
func vehicleName(typeID string) string {
	parts := strings.Split(typeID, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// InfoLines renders the info panel content.
func InfoLines(t Telemetry, serverFPS, clientFPS float64, barWidth int) []string {
	elapsed := time.Duration(t.SimSeconds * float64(time.Second)).Round(time.Second)

	lines := []string{
		fmt.Sprintf("Server:  %12.0f FPS", serverFPS),
		fmt.Sprintf("Client:  %12.0f FPS", clientFPS),
		"",
		fmt.Sprintf("Vehicle: %s", vehicleName(t.Vehicle)),
		fmt.Sprintf("Map:     %s", t.Map),
		fmt.Sprintf("Agent:   %s", t.Agent),
		fmt.Sprintf("Sim time: %s  frame %d", elapsed, t.Frame),
		fmt.Sprintf("Status:  %s", FormatStatus(t.Status)),
		"",
		fmt.Sprintf("Speed:   %8.0f km/h", t.Speed),
		fmt.Sprintf("Heading: %8.0f° %s", t.Heading, Compass(t.Heading)),
		fmt.Sprintf("Location: (%6.1f, %6.1f)", t.Location.X, t.Location.Y),
	}
	if t.HasGNSS {
		lines = append(lines, fmt.Sprintf("GNSS:    (%.6f, %.6f)", t.Lat, t.Lon))
	}
	lines = append(lines,
		fmt.Sprintf("Height:  %8.0f m", t.Location.Z),
		"",
		fmt.Sprintf("Throttle %s", Bar(t.Control.Throttle, 0, 1, barWidth)),
		fmt.Sprintf("Steer    %s", Bar(t.Control.Steer, -1, 1, barWidth)),
		fmt.Sprintf("Brake    %s", Bar(t.Control.Brake, 0, 1, barWidth)),
		fmt.Sprintf("Reverse: %t  Hand brake: %t", t.Control.Reverse, t.Control.HandBrake),
		"",
		fmt.Sprintf("Collisions:     %d", t.Collisions),
		fmt.Sprintf("Lane invasions: %d", t.LaneInvasions),
		fmt.Sprintf("Number of vehicles: %d", len(t.Nearby)+1),
	)
	if len(t.Nearby) > 0 {
		lines = append(lines, "Nearby vehicles:")
		for i, n := range t.Nearby {
			if i == maxNearby {
				break
			}
			lines = append(lines, fmt.Sprintf("  %4.0fm %s", n.Distance, vehicleName(n.TypeID)))
		}
	}
	if t.Destination != nil {
		remaining := t.Destination.Distance2D(t.Location)
		lines = append(lines,
			"",
			fmt.Sprintf("Destination: (%6.1f, %6.1f)", t.Destination.X, t.Destination.Y),
			fmt.Sprintf("Remaining:   %6.1f m", remaining),
		)
	}
	return lines
}

// HelpLines renders the key help content.
func HelpLines() []string {
	return []string{
		Style("Keys", Bold),
		"",
		"i          toggle info",
		"h          toggle help",
		"esc, q     quit",
		"ctrl+c     quit",
		"ctrl+q     quit",
	}
}
