// Package stores persists check reports in SQLite. The schema is managed
// with embedded golang-migrate migrations; file databases run in WAL mode.
package stores
