package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gamevault/gamevault/models"
	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
	"github.com/gamevault/gamevault/steam"
)

const sseKeepaliveInterval = 15 * time.Second

// SteamHandler exposes the Steam import pipeline
type SteamHandler struct {
	importService *services.SteamImportService
	sessions      *repository.ImportSessionRepository
	events        *repository.ImportEventRepository
	bus           *progress.Bus
}

// NewSteamHandler creates a new Steam handler
func NewSteamHandler(importService *services.SteamImportService, sessions *repository.ImportSessionRepository, events *repository.ImportEventRepository, bus *progress.Bus) *SteamHandler {
	return &SteamHandler{importService: importService, sessions: sessions, events: events, bus: bus}
}

// ValidateProfile checks a Steam profile and the supplied session cookies
// POST /api/steam/validate
func (h *SteamHandler) ValidateProfile(c *gin.Context) {
	var req models.SteamValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	c.JSON(http.StatusOK, h.importService.ValidateProfile(c.Request.Context(), req))
}

// ListGames returns the games with visible screenshots for a profile
// POST /api/steam/games
func (h *SteamHandler) ListGames(c *gin.Context) {
	var req models.SteamValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	games, err := h.importService.ListGames(c.Request.Context(), req)
	if err != nil {
		status, msg := steamErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// StartImport launches a background import session
// POST /api/steam/import
func (h *SteamHandler) StartImport(c *gin.Context) {
	var req models.SteamImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	sessionID, err := h.importService.Start(req)
	if err != nil {
		if errors.Is(err, services.ErrImportRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Failed to start import: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start import"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
}

// GetSession returns the stored state of an import session
// GET /api/steam/import/:session_id
func (h *SteamHandler) GetSession(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session)
}

// CancelImport requests cancellation of a running session
// POST /api/steam/import/:session_id/cancel
func (h *SteamHandler) CancelImport(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if !h.importService.Cancel(session.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Session is not running"})
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamProgress streams session progress as server-sent events. Reconnects
// resume from Last-Event-ID (or ?after=seq); finished sessions replay their
// stored event log.
// GET /api/steam/import/:session_id/progress
func (h *SteamHandler) StreamProgress(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	afterSeq := resumePoint(c)

	sse, ok := newSSEWriter(c)
	if !ok {
		return
	}

	topic := h.bus.Get(services.SessionTopicKey(session.ID))
	if topic == nil {
		h.replayFinished(c, sse, session.ID, afterSeq)
		return
	}

	sub := topic.Subscribe(afterSeq)
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

// replayFinished streams the durable log of a session that is no longer
// running, ending with the done sentinel
func (h *SteamHandler) replayFinished(c *gin.Context, sse *sseWriter, sessionID, afterSeq int64) {
	events, err := h.events.ListAfter(sessionID, afterSeq)
	if err != nil {
		log.Printf("Failed to replay events for session %d: %v", sessionID, err)
		return
	}
	sawDone := false
	for _, ev := range events {
		if c.Request.Context().Err() != nil {
			return
		}
		if err := sse.send(ev.Seq, ev.Kind, ev.Payload); err != nil {
			return
		}
		if ev.Kind == progress.KindDone {
			sawDone = true
		}
	}
	if !sawDone {
		// Sessions interrupted by a restart never logged their sentinel
		_ = sse.send(0, progress.KindDone, `{}`)
	}
}

func (h *SteamHandler) lookupSession(c *gin.Context) (*repository.ImportSession, bool) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return nil, false
	}
	session, err := h.sessions.GetByID(id)
	if err != nil {
		log.Printf("Failed to load session %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return nil, false
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return session, true
}

// resumePoint reads the reconnect cursor from Last-Event-ID or ?after=
func resumePoint(c *gin.Context) int64 {
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if seq, err := strconv.ParseInt(v, 10, 64); err == nil {
			return seq
		}
	}
	if v := c.Query("after"); v != "" {
		if seq, err := strconv.ParseInt(v, 10, 64); err == nil {
			return seq
		}
	}
	return 0
}

func steamErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, steam.ErrNotFound):
		return http.StatusNotFound, "Steam profile not found"
	case errors.Is(err, steam.ErrAuthRequired):
		return http.StatusUnauthorized, "Steam session cookies are invalid or the profile is private"
	case errors.Is(err, steam.ErrRateLimited):
		return http.StatusTooManyRequests, "Steam is rate limiting requests"
	default:
		return http.StatusBadGateway, "Failed to reach Steam"
	}
}
