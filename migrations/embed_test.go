package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	versions, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, versions, "schema must ship inside the binary")

	init, err := fs.ReadFile(FS, "001_init.sql")
	require.NoError(t, err)

	for _, table := range []string{"files", "messages", "file_segments"} {
		require.Contains(t, string(init), table)
	}
	require.Contains(t, string(init), "ON DELETE CASCADE")
}
