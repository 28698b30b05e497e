// Package migrations holds the SQLite schema of the log store.
package migrations

import "embed"

// FS contains embedded SQLite migrations for the log store.
//
//go:embed *.sql
var FS embed.FS
