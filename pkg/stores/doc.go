// Package stores persists run history in SQLite.
//
// A run is one batch of queries against a model. Its results are stored as
// JSON payloads next to a few indexed columns (query, direction, verdict,
// outcome) so history can be filtered without decoding them. Saturated
// automata can be kept as snapshots and rendered to DOT later without the
// model.
//
// The schema is managed with golang-migrate from embedded SQL files. A
// file database is guarded by an exclusive lock file next to it, so two
// processes never write the same history concurrently; the second one gets
// a storage error with code STORE_LOCKED.
package stores
