package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_SortsAndNames(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql": {Data: []byte("SELECT 1;")},
		"001_records.sql": {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("ignored")},
	}

	migrations, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "records", migrations[0].Name)
	assert.Equal(t, "indexes", migrations[1].Name)
}

func TestLoad_RejectsDuplicatesAndBadNames(t *testing.T) {
	_, err := Load(fstest.MapFS{
		"001_a.sql": {Data: []byte("")},
		"001_b.sql": {Data: []byte("")},
	})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{"records.sql": {Data: []byte("")}})
	assert.Error(t, err)
}

func TestMigrator_AppliesOnce(t *testing.T) {
	logger := zap.NewNop()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "nested", "m.db"), MaxOpenConns: 1}, logger)
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"001_t.sql": {Data: []byte("CREATE TABLE t (id INTEGER PRIMARY KEY);")},
	}
	m := NewMigrator(db, logger)
	require.NoError(t, m.Apply(t.Context(), fsys))
	require.NoError(t, m.Apply(t.Context(), fsys))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}
