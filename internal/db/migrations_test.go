package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := getMigrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql", "0002_row_level_security.sql"}, files)
}
