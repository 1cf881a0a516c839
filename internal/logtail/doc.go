// Package logtail reads the supervisor and worker log files for the `logs`
// command: the last N lines, then optionally every complete line appended
// afterwards. Memory use is bounded by N, not by the file size.
package logtail
