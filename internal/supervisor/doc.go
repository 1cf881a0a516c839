// Package supervisor runs the monitor's control loop: scan the archive,
// allocate per-feed worker targets for the download and transcription pools,
// launch workers to close any shortfall, and publish a status snapshot.
//
// Liveness comes from the worker registry on every tick, never from an
// in-memory count, so a restarted supervisor adopts workers that are already
// running. Excess workers are never killed; a feed whose target drops simply
// stops being topped up. Workers are independent processes and outlive the
// supervisor.
package supervisor
