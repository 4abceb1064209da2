package handlers

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
)

// UploadHandler accepts direct screenshot uploads
type UploadHandler struct {
	uploads       *services.UploadService
	games         *repository.GameRepository
	gameService   *services.GameService
	bus           *progress.Bus
	maxUploadSize int64
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploads *services.UploadService, games *repository.GameRepository, gameService *services.GameService, bus *progress.Bus, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{uploads: uploads, games: games, gameService: gameService, bus: bus, maxUploadSize: maxUploadSize}
}

// Upload ingests one or more screenshots from a multipart form. Fields:
// game_id (existing game) or game (display name, created on demand), files[].
// POST /api/upload
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	game, ok := h.resolveGame(c)
	if !ok {
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one file is required"})
		return
	}

	files := make([]services.UploadFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		files = append(files, services.UploadFile{Name: fh.Filename, Data: data})
	}

	taskID, err := h.uploads.Start(game, files)
	if err != nil {
		log.Printf("Failed to start upload task: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start upload"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// resolveGame picks the target game from game_id or, failing that, a game
// name that is created on first use
func (h *UploadHandler) resolveGame(c *gin.Context) (*repository.Game, bool) {
	if v := c.PostForm("game_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "game_id must be a number"})
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

	name := c.PostForm("game")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "game_id or game is required"})
		return nil, false
	}
	game, err := h.gameService.GetOrCreate(name, nil)
	if err != nil {
		log.Printf("Failed to resolve game %q: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve game"})
		return nil, false
	}
	return game, true
}

// StreamProgress streams upload task progress as server-sent events. Upload
// topics are live-only, a finished task returns done immediately.
// GET /api/upload/progress/:task_id
func (h *UploadHandler) StreamProgress(c *gin.Context) {
	taskID := c.Param("task_id")

	sse, ok := newSSEWriter(c)
	if !ok {
		return
	}

	topic := h.bus.Get(services.UploadTopicKey(taskID))
	if topic == nil {
		_ = sse.send(0, progress.KindDone, `{}`)
		return
	}

	sub := topic.Subscribe(resumePoint(c))
	defer sub.Unsubscribe()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := sse.send(ev.Seq, ev.Kind, string(ev.Payload)); err != nil {
				return
			}
		case <-keepalive.C:
			if err := sse.keepalive(); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
