package database

import (
	"fmt"
	"log"
	"strings"
)

// runMigrations creates all required tables
func runMigrations() error {
	migrations := []string{
		// Games table
		`CREATE TABLE IF NOT EXISTS games (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			name                  TEXT NOT NULL UNIQUE,
			folder_name           TEXT NOT NULL UNIQUE,
			steam_app_id          INTEGER UNIQUE,
			cover_path            TEXT,
			is_public             INTEGER DEFAULT 0,
			screenshot_count      INTEGER DEFAULT 0,
			first_screenshot_date TEXT,
			last_screenshot_date  TEXT,
			created_at            TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at            TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_games_steam_app_id ON games(steam_app_id)`,
		`CREATE INDEX IF NOT EXISTS idx_games_name ON games(name)`,

		// Screenshots table
		`CREATE TABLE IF NOT EXISTS screenshots (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id             INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			filename            TEXT NOT NULL,
			file_path           TEXT NOT NULL,
			thumb_sm_path       TEXT,
			thumb_md_path       TEXT,
			file_size           INTEGER,
			width               INTEGER,
			height              INTEGER,
			format              TEXT,
			taken_at            TEXT,
			uploaded_at         TEXT NOT NULL DEFAULT (datetime('now')),
			steam_screenshot_id TEXT,
			steam_description   TEXT,
			source              TEXT NOT NULL DEFAULT 'upload',
			file_hash           TEXT,
			exif_data           TEXT,
			is_favorite         INTEGER DEFAULT 0,
			view_count          INTEGER DEFAULT 0,
			created_at          TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_screenshots_game_id ON screenshots(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_screenshots_taken_at ON screenshots(taken_at)`,
		`CREATE INDEX IF NOT EXISTS idx_screenshots_source ON screenshots(source)`,

		// Dedup guarantees: at most one row per (game, steam id) and per (game, hash).
		// NULL steam_screenshot_id rows never conflict (SQLite treats NULLs as distinct).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_screenshots_game_steam_id
			ON screenshots(game_id, steam_screenshot_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_screenshots_game_hash
			ON screenshots(game_id, file_hash)`,

		// Annotations table (referenced by search; no endpoints in this service)
		`CREATE TABLE IF NOT EXISTS annotations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			screenshot_id INTEGER NOT NULL REFERENCES screenshots(id) ON DELETE CASCADE,
			content       TEXT NOT NULL,
			content_html  TEXT,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_screenshot_id ON annotations(screenshot_id)`,

		// Share links table
		`CREATE TABLE IF NOT EXISTS share_links (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			screenshot_id INTEGER NOT NULL REFERENCES screenshots(id) ON DELETE CASCADE,
			token         TEXT NOT NULL UNIQUE,
			is_active     INTEGER DEFAULT 1,
			expires_at    TEXT,
			view_count    INTEGER DEFAULT 0,
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_share_links_token ON share_links(token)`,

		// API keys table
		`CREATE TABLE IF NOT EXISTS api_keys (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			key_hash   TEXT NOT NULL UNIQUE,
			is_active  INTEGER DEFAULT 1,
			last_used  TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Steam import sessions table
		`CREATE TABLE IF NOT EXISTS import_sessions (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			steam_user_id         TEXT NOT NULL,
			status                TEXT NOT NULL DEFAULT 'running',
			total_games           INTEGER DEFAULT 0,
			completed_games       INTEGER DEFAULT 0,
			total_screenshots     INTEGER DEFAULT 0,
			completed_screenshots INTEGER DEFAULT 0,
			skipped_screenshots   INTEGER DEFAULT 0,
			failed_screenshots    INTEGER DEFAULT 0,
			last_error            TEXT,
			started_at            TEXT NOT NULL DEFAULT (datetime('now')),
			finished_at           TEXT,
			created_at            TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_sessions_user ON import_sessions(steam_user_id, status)`,

		// Durable progress event log; seq is monotonic per session
		`CREATE TABLE IF NOT EXISTS import_events (
			session_id INTEGER NOT NULL REFERENCES import_sessions(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (session_id, seq)
		)`,

		// FTS5 full-text search: content table mirrors searchable fields,
		// triggers keep the virtual table in sync
		`CREATE TABLE IF NOT EXISTS screenshots_fts_content (
			rowid              INTEGER PRIMARY KEY,
			game_name          TEXT,
			filename           TEXT,
			steam_description  TEXT,
			annotation_content TEXT
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS screenshots_fts USING fts5(
			game_name,
			filename,
			steam_description,
			annotation_content,
			content=screenshots_fts_content,
			content_rowid=rowid,
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS screenshots_fts_ai AFTER INSERT ON screenshots_fts_content BEGIN
			INSERT INTO screenshots_fts(rowid, game_name, filename, steam_description, annotation_content)
			VALUES (new.rowid, new.game_name, new.filename, new.steam_description, new.annotation_content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS screenshots_fts_ad AFTER DELETE ON screenshots_fts_content BEGIN
			INSERT INTO screenshots_fts(screenshots_fts, rowid, game_name, filename, steam_description, annotation_content)
			VALUES ('delete', old.rowid, old.game_name, old.filename, old.steam_description, old.annotation_content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS screenshots_fts_au AFTER UPDATE ON screenshots_fts_content BEGIN
			INSERT INTO screenshots_fts(screenshots_fts, rowid, game_name, filename, steam_description, annotation_content)
			VALUES ('delete', old.rowid, old.game_name, old.filename, old.steam_description, old.annotation_content);
			INSERT INTO screenshots_fts(rowid, game_name, filename, steam_description, annotation_content)
			VALUES (new.rowid, new.game_name, new.filename, new.steam_description, new.annotation_content);
		END`,
	}

	for _, migration := range migrations {
		_, err := DB.Exec(migration)
		if err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations
			errStr := err.Error()
			if containsIgnoreCase(errStr, "duplicate column") || containsIgnoreCase(errStr, "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	log.Println("Database migrations completed")
	return nil
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
