// Package archive owns the on-disk layout of the podcast archive and derives
// outstanding work from it.
//
// The filesystem is the only record of progress. Every path a component
// touches (audio, metadata sidecars, transcripts, sentinels, cached feed
// listings) is built by Layout, so the naming convention lives in one place.
// Scanner diffs the feed listing against what is on disk each time it is
// asked, producing FeedStatus snapshots for the allocator and WorkItems for
// workers. Nothing is cached between scans.
package archive
