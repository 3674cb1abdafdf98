// Package backfill implements the generic idempotent backfill run.
//
// A Task computes its reporting window from the clock, consults a sentinel
// so recently completed runs are not repeated, asks the store for the items
// still missing data, fetches every item through its source, discards records
// whose window differs from the requested one, and upserts the rest. Item
// failures are isolated; only a failed work-set query aborts the run.
package backfill
