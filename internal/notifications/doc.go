// Package notifications pushes archive alerts to ntfy.
//
// The monitor sends one message when a feed starts stalling, one when a feed
// becomes fully downloaded and transcribed, and one when the supervisor stops
// because the archive is unavailable. With no topic configured NewService
// returns a no-op, so callers never check whether alerts are enabled.
package notifications
