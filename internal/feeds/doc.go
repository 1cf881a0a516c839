// Package feeds supplies feed listings to the archive scanner: subscriptions
// from an OPML file, episode lists parsed from RSS/Atom with gofeed, and an
// on-disk cache that keeps listings available when a feed cannot be fetched.
package feeds
