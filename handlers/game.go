package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/models"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
)

// GameHandler manages game library endpoints
type GameHandler struct {
	games       *repository.GameRepository
	gameService *services.GameService
	library     *services.Library
}

// NewGameHandler creates a new game handler
func NewGameHandler(games *repository.GameRepository, gameService *services.GameService, library *services.Library) *GameHandler {
	return &GameHandler{games: games, gameService: gameService, library: library}
}

// List returns all games with their screenshot stats
// GET /api/games
func (h *GameHandler) List(c *gin.Context) {
	games, err := h.games.GetAll()
	if err != nil {
		log.Printf("Failed to list games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list games"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// Get returns one game
// GET /api/games/:id
func (h *GameHandler) Get(c *gin.Context) {
	game, ok := h.lookupGame(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, game)
}

// Create adds a game manually
// POST /api/games
func (h *GameHandler) Create(c *gin.Context) {
	var req models.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	existing, err := h.games.GetByName(req.Name)
	if err != nil {
		log.Printf("Failed to check game name: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create game"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "A game with this name already exists"})
		return
	}

	game, err := h.gameService.GetOrCreate(req.Name, req.SteamAppID)
	if err != nil {
		log.Printf("Failed to create game: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create game"})
		return
	}
	c.JSON(http.StatusCreated, game)
}

// Delete removes a game, its screenshots and its library folder
// DELETE /api/games/:id
func (h *GameHandler) Delete(c *gin.Context) {
	game, ok := h.lookupGame(c)
	if !ok {
		return
	}

	deleted, err := h.games.Delete(game.ID)
	if err != nil {
		log.Printf("Failed to delete game %d: %v", game.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete game"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}

	// Rows are gone, now the files. A failure here only orphans files.
	if err := os.RemoveAll(h.library.Abs(game.FolderName)); err != nil {
		log.Printf("Failed to remove game folder %q: %v", game.FolderName, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *GameHandler) lookupGame(c *gin.Context) (*repository.Game, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
		return nil, false
	}
	game, err := h.games.GetByID(id)
	if err != nil {
		log.Printf("Failed to load game %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load game"})
		return nil, false
	}
	if game == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return nil, false
	}
	return game, true
}
