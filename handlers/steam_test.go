package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamevault/gamevault/database"
	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/services"
)

func newSteamTestRouter(t *testing.T) (*gin.Engine, *repository.ImportSessionRepository, *repository.ImportEventRepository, *progress.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	require.NoError(t, database.Init(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { database.Close() })

	sessionRepo := repository.NewImportSessionRepository()
	eventRepo := repository.NewImportEventRepository()
	bus := progress.NewBus()

	handler := NewSteamHandler(nil, sessionRepo, eventRepo, bus)

	r := gin.New()
	r.GET("/api/steam/import/:session_id", handler.GetSession)
	r.GET("/api/steam/import/:session_id/progress", handler.StreamProgress)
	return r, sessionRepo, eventRepo, bus
}

func finishedSession(t *testing.T, sessions *repository.ImportSessionRepository, events *repository.ImportEventRepository) int64 {
	t.Helper()
	id, err := sessions.Create("76561198000000001")
	require.NoError(t, err)

	require.NoError(t, events.Append(id, 1, progress.KindStatus, `{"message":"starting import"}`))
	require.NoError(t, events.Append(id, 2, progress.KindProfileValidated, `{"profile_name":"Gordon"}`))
	require.NoError(t, events.Append(id, 3, progress.KindImportComplete, `{"session_id":1}`))
	require.NoError(t, events.Append(id, 4, progress.KindDone, `{}`))

	require.NoError(t, sessions.Finish(id, repository.SessionCompleted, 5, 1, 0, ""))
	return id
}

func TestGetSession(t *testing.T) {
	r, sessions, events, _ := newSteamTestRouter(t)
	id := finishedSession(t, sessions, events)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/steam/import/%d", id), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
	assert.Contains(t, w.Body.String(), `"completed_screenshots":5`)
}

func TestGetSessionNotFound(t *testing.T) {
	r, _, _, _ := newSteamTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/steam/import/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/steam/import/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamProgressReplaysFinishedSession(t *testing.T) {
	r, sessions, events, _ := newSteamTestRouter(t)
	finishedSession(t, sessions, events)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/steam/import/1/progress", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "id: 1\nevent: status\n")
	assert.Contains(t, body, "event: profile_validated\ndata: {\"profile_name\":\"Gordon\"}\n\n")
	assert.Contains(t, body, "event: done\n")

	// Events arrive in seq order
	assert.Less(t, strings.Index(body, "event: status"), strings.Index(body, "event: import_complete"))
}

func TestStreamProgressResumesAfterSeq(t *testing.T) {
	r, sessions, events, _ := newSteamTestRouter(t)
	finishedSession(t, sessions, events)

	req := httptest.NewRequest(http.MethodGet, "/api/steam/import/1/progress", nil)
	req.Header.Set("Last-Event-ID", "2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.NotContains(t, body, "event: profile_validated", "already-delivered events must be skipped")
	assert.Contains(t, body, "event: import_complete")
	assert.Contains(t, body, "event: done")
}

func TestStreamProgressInterruptedSessionGetsSyntheticDone(t *testing.T) {
	r, sessions, events, _ := newSteamTestRouter(t)
	id, err := sessions.Create("76561198000000002")
	require.NoError(t, err)
	// Simulate a crash: events logged, no sentinel, status forced terminal
	require.NoError(t, events.Append(id, 1, progress.KindStatus, `{}`))
	require.NoError(t, sessions.Finish(id, repository.SessionFailed, 0, 0, 0, "server restarted"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/steam/import/1/progress", nil))

	assert.Contains(t, w.Body.String(), "event: done", "stream must always terminate with done")
}

func TestStreamProgressLiveSession(t *testing.T) {
	r, sessions, _, bus := newSteamTestRouter(t)
	id, err := sessions.Create("76561198000000003")
	require.NoError(t, err)

	topic := bus.Open(services.SessionTopicKey(id), nil, 0)
	topic.Publish(progress.KindStatus, map[string]string{"message": "starting import"})
	topic.Publish(progress.KindImportComplete, map[string]int{"completed_screenshots": 0})

	// Close shortly after the stream subscribes; history replays regardless
	time.AfterFunc(100*time.Millisecond, topic.Close)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/steam/import/1/progress", nil))

	body := w.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: import_complete")
	assert.Contains(t, body, "event: done")
}
