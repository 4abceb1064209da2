package repository

import (
	"database/sql"
	"fmt"

	"github.com/gamevault/gamevault/database"
)

// Screenshot represents a screenshot entry in the database
type Screenshot struct {
	ID                int64   `json:"id"`
	GameID            int64   `json:"game_id"`
	Filename          string  `json:"filename"`
	FilePath          string  `json:"file_path"`
	ThumbSmPath       *string `json:"thumb_sm_path"`
	ThumbMdPath       *string `json:"thumb_md_path"`
	FileSize          int64   `json:"file_size"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Format            string  `json:"format"`
	TakenAt           *string `json:"taken_at"`
	UploadedAt        string  `json:"uploaded_at"`
	SteamScreenshotID *string `json:"steam_screenshot_id"`
	SteamDescription  *string `json:"steam_description"`
	Source            string  `json:"source"`
	FileHash          string  `json:"file_hash"`
	ExifData          *string `json:"exif_data"`
	IsFavorite        bool    `json:"is_favorite"`
	ViewCount         int     `json:"view_count"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

const screenshotColumns = `id, game_id, filename, file_path, thumb_sm_path, thumb_md_path,
	file_size, width, height, format, taken_at, uploaded_at, steam_screenshot_id,
	steam_description, source, file_hash, exif_data, is_favorite, view_count,
	created_at, updated_at`

// ScreenshotRepository handles screenshot database operations
type ScreenshotRepository struct{}

// NewScreenshotRepository creates a new screenshot repository
func NewScreenshotRepository() *ScreenshotRepository {
	return &ScreenshotRepository{}
}

func scanScreenshot(row interface{ Scan(...any) error }) (*Screenshot, error) {
	s := &Screenshot{}
	err := row.Scan(&s.ID, &s.GameID, &s.Filename, &s.FilePath, &s.ThumbSmPath, &s.ThumbMdPath,
		&s.FileSize, &s.Width, &s.Height, &s.Format, &s.TakenAt, &s.UploadedAt,
		&s.SteamScreenshotID, &s.SteamDescription, &s.Source, &s.FileHash, &s.ExifData,
		&s.IsFavorite, &s.ViewCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID finds a screenshot by ID
func (r *ScreenshotRepository) GetByID(id int64) (*Screenshot, error) {
	s, err := scanScreenshot(database.DB.QueryRow(
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screenshot by id: %w", err)
	}
	return s, nil
}

// ListByGame returns a page of screenshots for a game plus the total count
func (r *ScreenshotRepository) ListByGame(gameID int64, page, limit int) ([]Screenshot, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int
	if err := database.DB.QueryRow(
		`SELECT COUNT(*) FROM screenshots WHERE game_id = ?`, gameID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count screenshots: %w", err)
	}

	rows, err := database.DB.Query(
		`SELECT `+screenshotColumns+` FROM screenshots
		 WHERE game_id = ?
		 ORDER BY taken_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		gameID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list screenshots: %w", err)
	}
	defer rows.Close()

	var screenshots []Screenshot
	for rows.Next() {
		s, err := scanScreenshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		screenshots = append(screenshots, *s)
	}
	return screenshots, total, rows.Err()
}

// ExistsBySteamID checks whether a screenshot with this Steam id exists in a game
func (r *ScreenshotRepository) ExistsBySteamID(gameID int64, steamID string) (bool, error) {
	var one int
	err := database.DB.QueryRow(
		`SELECT 1 FROM screenshots WHERE game_id = ? AND steam_screenshot_id = ?`,
		gameID, steamID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate steam id: %w", err)
	}
	return true, nil
}

// GetByHash finds a screenshot in a game by content hash
func (r *ScreenshotRepository) GetByHash(gameID int64, fileHash string) (*Screenshot, error) {
	s, err := scanScreenshot(database.DB.QueryRow(
		`SELECT `+screenshotColumns+` FROM screenshots WHERE game_id = ? AND file_hash = ?`,
		gameID, fileHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screenshot by hash: %w", err)
	}
	return s, nil
}

// InsertTx inserts a screenshot row inside a transaction and returns the new id.
// Thumbnail paths are set separately once the id is known (they embed it).
func (r *ScreenshotRepository) InsertTx(tx *sql.Tx, s *Screenshot) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO screenshots
			(game_id, filename, file_path, file_size, width, height, format, taken_at,
			 steam_screenshot_id, steam_description, source, file_hash, exif_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.GameID, s.Filename, s.FilePath, s.FileSize, s.Width, s.Height, s.Format, s.TakenAt,
		s.SteamScreenshotID, s.SteamDescription, s.Source, s.FileHash, s.ExifData)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetThumbPathsTx records the generated thumbnail paths for a screenshot
func (r *ScreenshotRepository) SetThumbPathsTx(tx *sql.Tx, id int64, smPath, mdPath string) error {
	_, err := tx.Exec(
		`UPDATE screenshots SET thumb_sm_path = ?, thumb_md_path = ? WHERE id = ?`,
		smPath, mdPath, id)
	return err
}

// SyncFTSTx upserts the searchable text for a screenshot into the FTS content table
func (r *ScreenshotRepository) SyncFTSTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(
		`INSERT INTO screenshots_fts_content (rowid, game_name, filename, steam_description, annotation_content)
		 SELECT s.id, g.name, s.filename, COALESCE(s.steam_description, ''),
			COALESCE((SELECT a.content FROM annotations a WHERE a.screenshot_id = s.id), '')
		 FROM screenshots s JOIN games g ON g.id = s.game_id
		 WHERE s.id = ?
		 ON CONFLICT(rowid) DO UPDATE SET
			game_name = excluded.game_name,
			filename = excluded.filename,
			steam_description = excluded.steam_description,
			annotation_content = excluded.annotation_content`,
		id)
	return err
}

// Delete removes a screenshot row and its FTS entry. The caller removes files.
func (r *ScreenshotRepository) Delete(id int64) (bool, error) {
	var deleted bool
	err := database.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM screenshots_fts_content WHERE rowid = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM screenshots WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete screenshot: %w", err)
	}
	return deleted, nil
}

// ToggleFavorite flips the favorite flag and returns the new value
func (r *ScreenshotRepository) ToggleFavorite(id int64) (bool, error) {
	var newValue bool
	err := database.WithTransaction(func(tx *sql.Tx) error {
		var current bool
		if err := tx.QueryRow(`SELECT is_favorite FROM screenshots WHERE id = ?`, id).Scan(&current); err != nil {
			return err
		}
		newValue = !current
		_, err := tx.Exec(
			`UPDATE screenshots SET is_favorite = ?, updated_at = datetime('now') WHERE id = ?`,
			newValue, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	return newValue, nil
}

// SearchResult is one FTS hit with its game context
type SearchResult struct {
	Screenshot
	GameName string `json:"game_name"`
}

// Search runs a full-text query over filenames, game names, descriptions and annotations
func (r *ScreenshotRepository) Search(query string, limit int) ([]SearchResult, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := database.DB.Query(
		`SELECT s.id, s.game_id, s.filename, s.file_path, s.thumb_sm_path, s.thumb_md_path,
			s.file_size, s.width, s.height, s.format, s.taken_at, s.uploaded_at,
			s.steam_screenshot_id, s.steam_description, s.source, s.file_hash, s.exif_data,
			s.is_favorite, s.view_count, s.created_at, s.updated_at, g.name
		 FROM screenshots_fts f
		 JOIN screenshots s ON s.id = f.rowid
		 JOIN games g ON g.id = s.game_id
		 WHERE screenshots_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search screenshots: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		s := &res.Screenshot
		err := rows.Scan(&s.ID, &s.GameID, &s.Filename, &s.FilePath, &s.ThumbSmPath, &s.ThumbMdPath,
			&s.FileSize, &s.Width, &s.Height, &s.Format, &s.TakenAt, &s.UploadedAt,
			&s.SteamScreenshotID, &s.SteamDescription, &s.Source, &s.FileHash, &s.ExifData,
			&s.IsFavorite, &s.ViewCount, &s.CreatedAt, &s.UpdatedAt, &res.GameName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
