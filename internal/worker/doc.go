// Package worker runs the claim-apply-report loop against the broker.
//
// Workers are stateless: each iteration claims one task, applies the job's
// instruction to the task's rows, and reports the terminal outcome back to
// the broker. A worker never retries a failed task itself; redelivery is
// entirely the broker's concern via attempt counts and visibility deadlines,
// so a crashed worker loses nothing but time.
package worker
