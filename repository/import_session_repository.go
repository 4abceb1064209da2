package repository

import (
	"database/sql"
	"fmt"

	"github.com/gamevault/gamevault/database"
)

// Import session statuses. Running transitions to exactly one terminal state.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
	SessionFailed    = "failed"
)

// ImportSession represents one invocation of the import engine for a Steam user
type ImportSession struct {
	ID                   int64   `json:"id"`
	SteamUserID          string  `json:"steam_user_id"`
	Status               string  `json:"status"`
	TotalGames           int     `json:"total_games"`
	CompletedGames       int     `json:"completed_games"`
	TotalScreenshots     int     `json:"total_screenshots"`
	CompletedScreenshots int     `json:"completed_screenshots"`
	SkippedScreenshots   int     `json:"skipped_screenshots"`
	FailedScreenshots    int     `json:"failed_screenshots"`
	LastError            *string `json:"last_error"`
	StartedAt            string  `json:"started_at"`
	FinishedAt           *string `json:"finished_at"`
	CreatedAt            string  `json:"created_at"`
}

const sessionColumns = `id, steam_user_id, status, total_games, completed_games,
	total_screenshots, completed_screenshots, skipped_screenshots, failed_screenshots,
	last_error, started_at, finished_at, created_at`

// ImportSessionRepository handles import session database operations
type ImportSessionRepository struct{}

// NewImportSessionRepository creates a new import session repository
func NewImportSessionRepository() *ImportSessionRepository {
	return &ImportSessionRepository{}
}

func scanSession(row interface{ Scan(...any) error }) (*ImportSession, error) {
	s := &ImportSession{}
	err := row.Scan(&s.ID, &s.SteamUserID, &s.Status, &s.TotalGames, &s.CompletedGames,
		&s.TotalScreenshots, &s.CompletedScreenshots, &s.SkippedScreenshots, &s.FailedScreenshots,
		&s.LastError, &s.StartedAt, &s.FinishedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new running session and returns its id
func (r *ImportSessionRepository) Create(steamUserID string) (int64, error) {
	var id int64
	err := database.WithRetry(func() error {
		res, err := database.DB.Exec(
			`INSERT INTO import_sessions (steam_user_id, status) VALUES (?, ?)`,
			steamUserID, SessionRunning)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create import session: %w", err)
	}
	return id, nil
}

// GetByID finds a session by ID
func (r *ImportSessionRepository) GetByID(id int64) (*ImportSession, error) {
	s, err := scanSession(database.DB.QueryRow(
		`SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import session: %w", err)
	}
	return s, nil
}

// HasRunning reports whether a running session exists for a Steam user
func (r *ImportSessionRepository) HasRunning(steamUserID string) (bool, error) {
	var one int
	err := database.DB.QueryRow(
		`SELECT 1 FROM import_sessions WHERE steam_user_id = ? AND status = ?`,
		steamUserID, SessionRunning).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check running sessions: %w", err)
	}
	return true, nil
}

// UpdateProgress stores the discovery totals and running counters
func (r *ImportSessionRepository) UpdateProgress(id int64, totalGames, completedGames, totalScreenshots, completed, skipped, failed int) error {
	return database.WithRetry(func() error {
		_, err := database.DB.Exec(
			`UPDATE import_sessions SET
				total_games = ?, completed_games = ?, total_screenshots = ?,
				completed_screenshots = ?, skipped_screenshots = ?, failed_screenshots = ?
			 WHERE id = ?`,
			totalGames, completedGames, totalScreenshots, completed, skipped, failed, id)
		if err != nil {
			return fmt.Errorf("failed to update session progress: %w", err)
		}
		return nil
	})
}

// Finish writes the terminal status with final counters in one transaction.
// Terminal statuses are write-once: a session that already left the running
// state is not modified again.
func (r *ImportSessionRepository) Finish(id int64, status string, completed, skipped, failed int, lastError string) error {
	return database.WithTransaction(func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRow(`SELECT status FROM import_sessions WHERE id = ?`, id).Scan(&current); err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}
		if current != SessionRunning {
			return nil
		}
		var lastErr *string
		if lastError != "" {
			lastErr = &lastError
		}
		_, err := tx.Exec(
			`UPDATE import_sessions SET
				status = ?, completed_screenshots = ?, skipped_screenshots = ?,
				failed_screenshots = ?, last_error = ?, finished_at = datetime('now')
			 WHERE id = ?`,
			status, completed, skipped, failed, lastErr, id)
		if err != nil {
			return fmt.Errorf("failed to finish session: %w", err)
		}
		return nil
	})
}
