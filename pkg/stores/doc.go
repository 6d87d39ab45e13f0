// Package stores provides the SQLite batch journal.
//
// The journal keeps an audit trail of batch reports: one row per batch, unit
// and stage plus the full report as JSON, and an append-only event log for
// rejected uploads. Migrations are embedded and applied with golang-migrate.
// The driver only ever writes to the journal; the history command and the
// batches endpoints read it.
package stores
