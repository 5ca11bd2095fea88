package loop

// minProgress is the distance in meters the vehicle must close on its
// destination within the stuck window to count as moving.
const minProgress = 0.5

// DetectStuck checks whether the vehicle is stuck given its distance to the
// destination at each cycle. It is stuck if none of the last threshold
// distances is at least minProgress closer than the first of them.
func DetectStuck(distances []float64, threshold int) bool {
	if threshold <= 1 || len(distances) < threshold {
		return false
	}

	recent := distances[len(distances)-threshold:]
	for _, d := range recent[1:] {
		if d <= recent[0]-minProgress {
			return false
		}
	}
	return true
}

// ProgressRate returns the meters closed on the destination per cycle,
// averaged over the last window cycles.
func ProgressRate(distances []float64, window int) float64 {
	if window > len(distances) {
		window = len(distances)
	}
	if window < 2 {
		return 0
	}

	recent := distances[len(distances)-window:]
	return (recent[0] - recent[len(recent)-1]) / float64(window-1)
}
