package services

import (
	"fmt"
	"log"

	"github.com/gamevault/gamevault/database"
	"github.com/gamevault/gamevault/repository"
)

// GameService manages game records and their library folders
type GameService struct {
	games   *repository.GameRepository
	library *Library
}

// NewGameService creates a new game service
func NewGameService(games *repository.GameRepository, library *Library) *GameService {
	return &GameService{games: games, library: library}
}

// GetOrCreate resolves a game for incoming screenshots. Lookup order is Steam
// app id, then exact name; a miss creates the game with a sanitized, unique
// folder name. Concurrent creators settle through the UNIQUE constraints.
func (s *GameService) GetOrCreate(name string, steamAppID *int) (*repository.Game, error) {
	if steamAppID != nil {
		game, err := s.games.GetBySteamAppID(*steamAppID)
		if err != nil {
			return nil, err
		}
		if game != nil {
			return game, nil
		}
	}

	game, err := s.games.GetByName(name)
	if err != nil {
		return nil, err
	}
	if game != nil {
		return game, nil
	}

	folderName, err := s.uniqueFolderName(name)
	if err != nil {
		return nil, err
	}
	game, err = s.games.Create(name, folderName, steamAppID, false)
	if err != nil {
		if database.IsUniqueViolation(err) {
			// Lost a race with another creator, fetch the winner
			if steamAppID != nil {
				if g, gerr := s.games.GetBySteamAppID(*steamAppID); gerr == nil && g != nil {
					return g, nil
				}
			}
			if g, gerr := s.games.GetByName(name); gerr == nil && g != nil {
				return g, nil
			}
		}
		return nil, err
	}
	if _, err := s.library.GameDir(game.FolderName); err != nil {
		return nil, err
	}
	log.Printf("Created game %q (folder %q)", game.Name, game.FolderName)
	return game, nil
}

// uniqueFolderName derives a filesystem-safe folder name from the display
// name, suffixing with a counter when another game already owns it
func (s *GameService) uniqueFolderName(name string) (string, error) {
	base := SanitizeName(name)
	candidate := base
	for i := 2; ; i++ {
		existing, err := s.games.GetByFolderName(candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)", base, i)
	}
}

// RefreshStats recalculates a game's denormalized screenshot counters
func (s *GameService) RefreshStats(gameID int64) {
	if err := s.games.RefreshScreenshotStats(gameID); err != nil {
		log.Printf("Failed to refresh stats for game %d: %v", gameID, err)
	}
}
