// Package worker implements the claim loop run by each worker process: find
// the next pending item of one kind for one feed, claim its sentinel, perform
// the operation, release, and repeat until nothing claimable remains.
//
// A failed item is logged and journaled and the loop moves on. Each item is
// attempted at most once per Run, so a permanently failing item cannot pin a
// worker; it stays pending on disk and is retried by a later worker.
package worker
