package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLFiles_Embedded(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_ledger.sql"}, pg)

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_ledger_entries.sql"}, ch)
}

func TestPostgresSchema_EnforcesSingleActivePosition(t *testing.T) {
	data, err := PostgresFS.ReadFile("postgres/001_ledger.sql")
	require.NoError(t, err)

	sql := string(data)
	assert.Contains(t, sql, "CREATE UNIQUE INDEX IF NOT EXISTS positions_one_active_idx")
	assert.Contains(t, sql, "WHERE state IN ('OPEN', 'PARTIAL')")
	assert.Contains(t, sql, "NUMERIC(38, 9)")
}

func TestSplitStatements(t *testing.T) {
	input := `
-- header
CREATE TABLE a (x String);
-- between
CREATE TABLE b (y String)
ENGINE = MergeTree ORDER BY y;
`
	stmts, err := splitStatements(input)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.Contains(t, stmts[1], "ENGINE = MergeTree")
}

func TestSplitStatements_RejectsSemicolonInLiteral(t *testing.T) {
	_, err := splitStatements(`INSERT INTO t VALUES ('a;b');`)
	assert.Error(t, err)

	stmts, err := splitStatements(`INSERT INTO t VALUES ('it''s');`)
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://default@localhost:9000")
	assert.Error(t, err)
}
