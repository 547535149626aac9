package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMigrationID(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"001_initial_schema.up.sql", "001_initial_schema"},
		{"001_initial_schema.down.sql", "001_initial_schema"},
		{"20260301120000_add_index.up.sql", "20260301120000_add_index"},
		{"no_extension", "no_extension"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractMigrationID(tt.filename), tt.filename)
	}
}

func TestUpFilesSkipsDownCompanions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "002_b.down.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	m := &Migrator{dir: dir}
	files, err := m.upFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.True(t, strings.HasSuffix(files[0], "001_a.up.sql"))
	assert.True(t, strings.HasSuffix(files[1], "002_b.up.sql"))
}

func TestMigrationsDirectoryWellFormed(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
		assert.True(t,
			strings.HasSuffix(e.Name(), ".up.sql") || strings.HasSuffix(e.Name(), ".down.sql"),
			"unexpected file %s", e.Name())
	}

	// Every up migration needs a down companion.
	for name := range names {
		if strings.HasSuffix(name, ".up.sql") {
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			assert.True(t, names[down], "missing down companion for %s", name)
		}
	}
}
