package migrations

import "embed"

// FS contains embedded SQLite migrations for the transaction ledger.
//
//go:embed *.sql
var FS embed.FS
