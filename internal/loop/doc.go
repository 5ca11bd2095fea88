// Package loop runs the simulation control loop of a driving client.
//
// Execute drives one run through its whole lifecycle:
//   - Initializing: connect, configure timing, spawn the player, build the
//     agent and pick the first destination
//   - Running: one cycle per simulation frame (see Loop.Run)
//   - Completed, Interrupted, Faulted or FrameLimit, followed by teardown
//
// Teardown restores the server timing settings, then destroys every actor
// the run spawned, then releases the display. It runs on every exit path
// once a world handle exists; its failures are logged, never returned.
//
// Helpers for progress tracking (DetectStuck, ProgressRate) are exported for
// use by integration tests.
package loop
