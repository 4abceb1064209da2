package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
)

// ScreenshotHandler manages individual screenshots and their files
type ScreenshotHandler struct {
	screenshots *repository.ScreenshotRepository
	gameService *services.GameService
	library     *services.Library
}

// NewScreenshotHandler creates a new screenshot handler
func NewScreenshotHandler(screenshots *repository.ScreenshotRepository, gameService *services.GameService, library *services.Library) *ScreenshotHandler {
	return &ScreenshotHandler{screenshots: screenshots, gameService: gameService, library: library}
}

// ListByGame returns a page of a game's screenshots, newest first
// GET /api/games/:id/screenshots
func (h *ScreenshotHandler) ListByGame(c *gin.Context) {
	gameID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid game id"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	screenshots, total, err := h.screenshots.ListByGame(gameID, page, limit)
	if err != nil {
		log.Printf("Failed to list screenshots for game %d: %v", gameID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list screenshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"screenshots": screenshots,
		"total":       total,
		"page":        page,
	})
}

// Get returns screenshot metadata
// GET /api/screenshots/:id
func (h *ScreenshotHandler) Get(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s)
}

// ServeFile streams the original image
// GET /api/screenshots/:id/file
func (h *ScreenshotHandler) ServeFile(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.File(h.library.Abs(s.FilePath))
}

// ServeThumb streams a generated thumbnail, falling back to the original
// when thumbnails are missing
// GET /api/screenshots/:id/thumb/:size
func (h *ScreenshotHandler) ServeThumb(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var path *string
	switch c.Param("size") {
	case "sm":
		path = s.ThumbSmPath
	case "md":
		path = s.ThumbMdPath
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be sm or md"})
		return
	}
	if path == nil {
		c.File(h.library.Abs(s.FilePath))
		return
	}
	c.File(h.library.Abs(*path))
}

// Delete removes a screenshot row and its files
// DELETE /api/screenshots/:id
func (h *ScreenshotHandler) Delete(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	deleted, err := h.screenshots.Delete(s.ID)
	if err != nil {
		log.Printf("Failed to delete screenshot %d: %v", s.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete screenshot"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Screenshot not found"})
		return
	}

	services.RemoveIfExists(h.library.Abs(s.FilePath))
	if s.ThumbSmPath != nil {
		services.RemoveIfExists(h.library.Abs(*s.ThumbSmPath))
	}
	if s.ThumbMdPath != nil {
		services.RemoveIfExists(h.library.Abs(*s.ThumbMdPath))
	}
	h.gameService.RefreshStats(s.GameID)

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ToggleFavorite flips the favorite flag
// POST /api/screenshots/:id/favorite
func (h *ScreenshotHandler) ToggleFavorite(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	favorite, err := h.screenshots.ToggleFavorite(s.ID)
	if err != nil {
		log.Printf("Failed to toggle favorite on %d: %v", s.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update screenshot"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorite": favorite})
}

func (h *ScreenshotHandler) lookup(c *gin.Context) (*repository.Screenshot, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid screenshot id"})
		return nil, false
	}
	s, err := h.screenshots.GetByID(id)
	if err != nil {
		log.Printf("Failed to load screenshot %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load screenshot"})
		return nil, false
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Screenshot not found"})
		return nil, false
	}
	return s, true
}
