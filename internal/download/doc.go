// Package download fetches episode audio into the archive.
//
// Bodies stream into a temporary file beside the target and are renamed into
// place only after the whole body arrived and met the minimum valid size, so
// a reader never observes a half-written audio file under its final name.
// Transient failures (network errors, 429 and 5xx responses) are retried with
// exponential backoff; everything else fails the item immediately.
package download
