// Package connector orchestrates sync passes for a configured source.
//
// A Connector wires a Source (REST, FTP/SFTP, or local files), a
// Transformer, an auth Provider, and an ingest Client into a single
// Pull operation. Each pass walks the source's units in order,
// transforms every unit into records, uploads the records with
// idempotency keys, and advances a checkpoint that marks the furthest
// fully processed position. The checkpoint stops advancing at the
// first unit with failures, so resuming from it re-processes nothing
// that already succeeded and skips nothing that did not.
//
// Record-level failures are isolated: a malformed record or a rejected
// upload is recorded in the pass result and the pass continues.
// Transport failures end the pass with whatever progress was made.
//
// Push sources (webhooks, watched files) enter through ProcessPayload,
// which runs the same transform and upload path for a single payload.
package connector
