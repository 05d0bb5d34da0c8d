// Package imports implements the bulk property ingestion pipeline.
//
// Service is the producer side: it accepts an upload, creates (or returns)
// the import job for the caller's idempotency key, and streams the upload in
// the background, publishing fixed-size batches of validated rows.
//
// Consumer is the other side of the queue: it applies one batch per
// delivery under a per-job distributed lock, de-duplicates through the
// processed-batch ledger, advances the job counters and decides completion.
// Failed deliveries are rejected into the broker's retry ladder until the
// retry ceiling, then dead-lettered.
//
// The package depends only on the contracts in repository.go. It never
// imports net/http, database/sql or the broker client directly.
package imports
