// Package lockfile implements per-item claims shared by independent worker
// processes.
//
// A claim is a sentinel file placed beside the item's output path and an
// exclusive flock(2) held on it by the claiming process. The advisory lock is
// the only proof of ownership: the kernel drops it when the holder exits, so
// a sentinel whose lock can be taken belongs to a dead process and is stale.
// Sentinel contents (pid, owner, run id, acquisition time) are diagnostic.
//
// TryAcquire never blocks. Contention and I/O errors both yield a nil Lock so
// callers move on to the next item. Release removes the sentinel before
// dropping the lock and is a no-op for sentinels that vanished externally.
package lockfile
