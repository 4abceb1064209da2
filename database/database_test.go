package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Init(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { Close() })
}

func TestInitAppliesConnectionPragmas(t *testing.T) {
	setupDB(t)

	var journalMode string
	require.NoError(t, DB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, DB.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys, "cascade deletes need foreign keys on")

	var busyTimeout int
	require.NoError(t, DB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 10000, busyTimeout)

	var synchronous int
	require.NoError(t, DB.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")
}

func TestDeleteGameCascadesToScreenshots(t *testing.T) {
	setupDB(t)

	res, err := DB.Exec(`INSERT INTO games (name, folder_name) VALUES ('Half-Life 2', 'Half-Life 2')`)
	require.NoError(t, err)
	gameID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = DB.Exec(
		`INSERT INTO screenshots (game_id, filename, file_path) VALUES (?, 'a.png', 'Half-Life 2/a.png')`,
		gameID)
	require.NoError(t, err)

	_, err = DB.Exec(`DELETE FROM games WHERE id = ?`, gameID)
	require.NoError(t, err)

	var orphans int
	require.NoError(t, DB.QueryRow(
		`SELECT COUNT(*) FROM screenshots WHERE game_id = ?`, gameID).Scan(&orphans))
	assert.Equal(t, 0, orphans, "deleting a game removes its screenshot rows")
}

func TestScreenshotInsertRequiresExistingGame(t *testing.T) {
	setupDB(t)

	_, err := DB.Exec(
		`INSERT INTO screenshots (game_id, filename, file_path) VALUES (999, 'a.png', 'x/a.png')`)
	assert.Error(t, err, "inserts against a missing game must be rejected")
}
