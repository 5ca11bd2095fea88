package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thruflo/autodrive/internal/sim"
)

// AssertCallOrder asserts that want appears in calls as a subsequence.
func AssertCallOrder(t *testing.T, calls []string, want ...string) bool {
	t.Helper()

	i := 0
	for _, c := range calls {
		if i < len(want) && c == want[i] {
			i++
		}
	}
	return assert.Equal(t, len(want), i,
		"calls %v do not contain %v in order (matched %d)", calls, want, i)
}

// AssertCalledOnce asserts that method appears exactly once in calls.
func AssertCalledOnce(t *testing.T, calls []string, method string) bool {
	t.Helper()
	return AssertCalledTimes(t, calls, method, 1)
}

// AssertCalledTimes asserts that method appears n times in calls.
func AssertCalledTimes(t *testing.T, calls []string, method string, n int) bool {
	t.Helper()

	got := 0
	for _, c := range calls {
		if c == method {
			got++
		}
	}
	return assert.Equal(t, n, got, "%s called %d times, want %d", method, got, n)
}

// AssertNoManualGearShift asserts every applied control has manual gear shift off.
func AssertNoManualGearShift(t *testing.T, controls []sim.VehicleControl) bool {
	t.Helper()

	ok := true
	for i, c := range controls {
		ok = assert.False(t, c.ManualGearShift, "control[%d] has manual gear shift", i) && ok
	}
	return ok
}
