// Package stores provides the local audit trail of tf-gate.
// It is a SQLite database (modernc.org/sqlite, no cgo) in WAL mode with
// embedded golang-migrate migrations, holding gate evaluations, the
// telemetry event log, audit entries for break-glass and apply, and the
// history of applies used for the terraform version-lock check.
package stores
