package repository

import (
	"database/sql"
	"fmt"

	"github.com/gamevault/gamevault/database"
)

// Game represents a game entry in the database
type Game struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	FolderName          string  `json:"folder_name"`
	SteamAppID          *int    `json:"steam_app_id"`
	CoverPath           *string `json:"cover_path"`
	IsPublic            bool    `json:"is_public"`
	ScreenshotCount     int     `json:"screenshot_count"`
	FirstScreenshotDate *string `json:"first_screenshot_date"`
	LastScreenshotDate  *string `json:"last_screenshot_date"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

const gameColumns = `id, name, folder_name, steam_app_id, cover_path, is_public,
	screenshot_count, first_screenshot_date, last_screenshot_date, created_at, updated_at`

// GameRepository handles game database operations
type GameRepository struct{}

// NewGameRepository creates a new game repository
func NewGameRepository() *GameRepository {
	return &GameRepository{}
}

func scanGame(row interface{ Scan(...any) error }) (*Game, error) {
	g := &Game{}
	err := row.Scan(&g.ID, &g.Name, &g.FolderName, &g.SteamAppID, &g.CoverPath, &g.IsPublic,
		&g.ScreenshotCount, &g.FirstScreenshotDate, &g.LastScreenshotDate, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetByID finds a game by ID
func (r *GameRepository) GetByID(id int64) (*Game, error) {
	g, err := scanGame(database.DB.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game by id: %w", err)
	}
	return g, nil
}

// GetByName finds a game by its display name
func (r *GameRepository) GetByName(name string) (*Game, error) {
	g, err := scanGame(database.DB.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game by name: %w", err)
	}
	return g, nil
}

// GetBySteamAppID finds a game by its Steam app ID
func (r *GameRepository) GetBySteamAppID(appID int) (*Game, error) {
	g, err := scanGame(database.DB.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE steam_app_id = ?`, appID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game by steam app id: %w", err)
	}
	return g, nil
}

// GetByFolderName finds a game by its library folder name
func (r *GameRepository) GetByFolderName(folderName string) (*Game, error) {
	g, err := scanGame(database.DB.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE folder_name = ?`, folderName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game by folder name: %w", err)
	}
	return g, nil
}

// GetAll returns all games ordered by name
func (r *GameRepository) GetAll() ([]Game, error) {
	rows, err := database.DB.Query(`SELECT ` + gameColumns + ` FROM games ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

// Create inserts a new game and returns it
func (r *GameRepository) Create(name, folderName string, steamAppID *int, isPublic bool) (*Game, error) {
	var id int64
	err := database.WithRetry(func() error {
		res, err := database.DB.Exec(
			`INSERT INTO games (name, folder_name, steam_app_id, is_public) VALUES (?, ?, ?, ?)`,
			name, folderName, steamAppID, isPublic)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return r.GetByID(id)
}

// UpdateCoverPath sets the cover image path for a game
func (r *GameRepository) UpdateCoverPath(id int64, coverPath string) error {
	_, err := database.DB.Exec(
		`UPDATE games SET cover_path = ?, updated_at = datetime('now') WHERE id = ?`,
		coverPath, id)
	if err != nil {
		return fmt.Errorf("failed to update cover path: %w", err)
	}
	return nil
}

// Delete removes a game; screenshot rows cascade
func (r *GameRepository) Delete(id int64) (bool, error) {
	res, err := database.DB.Exec(`DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete game: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RefreshScreenshotStats recalculates the denormalized screenshot stats for a game
func (r *GameRepository) RefreshScreenshotStats(id int64) error {
	_, err := database.DB.Exec(
		`UPDATE games SET
			screenshot_count = (SELECT COUNT(*) FROM screenshots WHERE game_id = ?),
			first_screenshot_date = (SELECT MIN(taken_at) FROM screenshots WHERE game_id = ?),
			last_screenshot_date = (SELECT MAX(taken_at) FROM screenshots WHERE game_id = ?),
			updated_at = datetime('now')
		WHERE id = ?`,
		id, id, id, id)
	if err != nil {
		return fmt.Errorf("failed to refresh screenshot stats: %w", err)
	}
	return nil
}
