// Package testutil provides shared test utilities for autodrive.
//
// # Fixtures
//
// The fixtures.go file provides sample data:
//
//   - SampleConfig() - a headless synchronous config with a fixed seed
//   - SampleSpawnPoints() - three spawn points A, B and C
//   - SampleRun() - a finished run record
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupTestDir(t) - temp directory with config/ and .autodrive/runs/
//   - FindProjectRoot(t) - the directory holding go.mod
//   - MustMarshalJSON, MustUnmarshalJSON, WriteTestFile
//
// The simenv.go file runs the simulator in-process:
//
//   - StartSimServer(t, cfg) - simserver on an httptest listener, with its ws URL
//   - StartSimClock(t, srv) - drive asynchronous ticks until the test ends
//   - DialSim(t, url) - a connected sim.WSClient closed on cleanup
//   - QuietLogger(), CaptureLogger() - loggers that never touch stderr
//
// # Assertions
//
//   - AssertCallOrder(t, calls, want...) - want appears in calls in order
//   - AssertCalledOnce(t, calls, method)
//   - AssertNoManualGearShift(t, controls)
package testutil
