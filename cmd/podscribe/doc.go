// Package main hosts the podscribe CLI entrypoint and command graph.
//
// One binary plays every role: `monitor` runs the supervisor loop and
// dashboard, `worker` is what the supervisor launches for each feed, and the
// remaining commands inspect archive state or send a test notification.
// Configuration resolution and component wiring live here so the internal
// packages stay free of flag handling.
package main
