// Package broker implements the shared task queue and result store that
// coordinates chunk execution between the job coordinator and workers.
//
// The broker is the single authority on claim ownership: workers claim tasks
// through a transactional ClaimNext, and a claimed task that misses its
// visibility deadline becomes reclaimable by any other worker. Terminal chunk
// results are recorded at most once per (job, chunk); later duplicates are
// ignored, which is what makes at-least-once execution safe downstream.
package broker
