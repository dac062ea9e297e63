// Package store persists users, jobs, and synthesis chunks in SQLite.
//
// All multi-row invariants are enforced transactionally: credit holds are
// placed in the same transaction that creates the job, chunk completion
// advances the job counter atomically so duplicate deliveries cannot
// trigger a second merge, and settlement releases the full original hold.
package store
