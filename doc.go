// Package inlet is an integration connector runtime: it pulls data from
// REST APIs, FTP/SFTP servers, and watched directories, accepts pushed
// data over signed webhooks, normalizes every payload into JSON records,
// and uploads the records to a document ingestion service.
//
// The runtime is organized around a small set of composable packages:
//
//   - pkg/connector orchestrates sync passes: fetch, transform, upload,
//     checkpoint. A pass is resumable and partially successful; a bad
//     record is logged and skipped, never fatal.
//
//   - pkg/transport implements the pull and push transports: a REST
//     client with cursor, offset, and page pagination plus server-sent
//     event streaming; FTP and SFTP batch download; a polling directory
//     watcher; and an HMAC-verified webhook receiver.
//
//   - pkg/auth supplies credentials: static API key, bearer, and basic
//     schemes, plus an OAuth2 client-credentials provider with
//     single-flight token refresh.
//
//   - pkg/transform normalizes CSV, JSON, and fixed-width payloads into
//     record streams, with per-record rename, exclude, and filter rules.
//
//   - pkg/schedule runs passes on a cron schedule, skipping ticks that
//     would overlap a pass still in flight.
//
//   - pkg/ingest uploads records to the ingestion API with idempotency
//     keys so retried passes never duplicate documents.
//
// The cmd/inlet binary ties these together: `inlet sync` for a one-shot
// pass, `inlet run` for the long-lived scheduled service.
package inlet
