package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/repository"
)

// SearchHandler runs full-text queries over the screenshot library
type SearchHandler struct {
	screenshots *repository.ScreenshotRepository
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(screenshots *repository.ScreenshotRepository) *SearchHandler {
	return &SearchHandler{screenshots: screenshots}
}

// Search matches against game names, filenames, descriptions and annotations
// GET /api/search?q=...&limit=...
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results, err := h.screenshots.Search(ftsQuery(query), limit)
	if err != nil {
		log.Printf("Search failed for %q: %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// ftsQuery quotes each term so user input cannot inject FTS5 operators
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"*`
	}
	return strings.Join(terms, " ")
}
