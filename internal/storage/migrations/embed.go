package migrations

import "embed"

// PostgresFS embeds the ledger schema (positions, position_flags).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the journal schema (ledger_entries).
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
