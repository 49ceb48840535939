package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- archive schema
CREATE TABLE a (x String DEFAULT 'a;b');

-- second
ALTER TABLE a ADD COLUMN y UInt8;
`
	assert.Equal(t, []string{
		"CREATE TABLE a (x String DEFAULT 'a;b')",
		"ALTER TABLE a ADD COLUMN y UInt8",
	}, splitStatements(sql))

	// escaped quotes toggle twice and leave the state unchanged
	assert.Equal(t, []string{"SELECT 'it''s;fine'", "SELECT 1"}, splitStatements("SELECT 'it''s;fine'; SELECT 1"))
}

func TestLoad_OrdersAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_meta.sql":  {Data: []byte("CREATE TABLE meta ();")},
		"pg/001_core.sql":  {Data: []byte("CREATE TABLE core ();")},
		"pg/003_empty.sql": {Data: []byte("  \n")},
		"pg/README.md":     {Data: []byte("ignored")},
	}

	files, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_core.sql", files[0].name)
	assert.Equal(t, "002_meta.sql", files[1].name)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.NotEmpty(t, pg)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.NotEmpty(t, splitStatements(m.sql), m.name)
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/dex")
	require.NoError(t, err)
	assert.Equal(t, "dex", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
