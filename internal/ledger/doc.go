// Package ledger implements the credit accounting rules: cost estimation,
// tier limits, and the reserve/confirm/release lifecycle.
//
// Reservations hold the estimated cost against the balance until the job
// settles. Confirmation charges the actual cost and removes the full hold;
// release returns the hold untouched. Both are idempotent so at-least-once
// task delivery cannot double-charge an account.
package ledger
