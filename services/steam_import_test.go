package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamevault/gamevault/database"
	"github.com/gamevault/gamevault/models"
	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/steam"
)

// stubSteam is a canned SteamClient for engine tests
type stubSteam struct {
	mu sync.Mutex

	profile     *steam.Profile
	validateErr error

	games       []steam.GameListing
	discoverErr error

	shots        map[int][]steam.ScreenshotRef
	enumerateErr map[int]error

	images        map[string][]byte
	downloadDelay time.Duration
	downloads     int
}

func (s *stubSteam) ValidateProfile(ctx context.Context, creds steam.Credentials) (*steam.Profile, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return s.profile, nil
}

func (s *stubSteam) DiscoverGames(ctx context.Context, creds steam.Credentials) ([]steam.GameListing, error) {
	if s.discoverErr != nil {
		return nil, s.discoverErr
	}
	return s.games, nil
}

func (s *stubSteam) EnumerateScreenshots(ctx context.Context, creds steam.Credentials, appID int) ([]steam.ScreenshotRef, error) {
	if err := s.enumerateErr[appID]; err != nil {
		return nil, err
	}
	return s.shots[appID], nil
}

func (s *stubSteam) FetchScreenshotDetail(ctx context.Context, creds steam.Credentials, ref *steam.ScreenshotRef) error {
	return nil
}

func (s *stubSteam) DownloadImage(ctx context.Context, creds steam.Credentials, imageURL string) ([]byte, error) {
	if s.downloadDelay > 0 {
		select {
		case <-time.After(s.downloadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.downloads++
	data, ok := s.images[imageURL]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no image for %s", steam.ErrNotFound, imageURL)
	}
	return data, nil
}

type engineEnv struct {
	library  *Library
	sessions *repository.ImportSessionRepository
	events   *repository.ImportEventRepository
	shots    *repository.ScreenshotRepository
	games    *repository.GameRepository
	service  *SteamImportService
}

func newEngineEnv(t *testing.T, stub *stubSteam) *engineEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, database.Init(filepath.Join(dir, "test.db")))
	t.Cleanup(func() { database.Close() })

	library, err := NewLibrary(filepath.Join(dir, "library"))
	require.NoError(t, err)

	gameRepo := repository.NewGameRepository()
	shotRepo := repository.NewScreenshotRepository()
	sessionRepo := repository.NewImportSessionRepository()
	eventRepo := repository.NewImportEventRepository()

	gameService := NewGameService(gameRepo, library)
	ingestService := NewIngestService(shotRepo, library, 85)
	service := NewSteamImportService(sessionRepo, eventRepo, gameService, ingestService, stub, progress.NewBus())

	return &engineEnv{
		library:  library,
		sessions: sessionRepo,
		events:   eventRepo,
		shots:    shotRepo,
		games:    gameRepo,
		service:  service,
	}
}

func waitForTerminal(t *testing.T, env *engineEnv, sessionID int64) *repository.ImportSession {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		session, err := env.sessions.GetByID(sessionID)
		require.NoError(t, err)
		require.NotNil(t, session)
		if session.Status != repository.SessionRunning {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

// waitForDoneEvent polls the durable log until the done sentinel lands; the
// terminal status row is written just before the last events persist
func waitForDoneEvent(t *testing.T, env *engineEnv, sessionID int64) []repository.ImportEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, err := env.events.ListAfter(sessionID, 0)
		require.NoError(t, err)
		if n := len(events); n > 0 && events[n-1].Kind == progress.KindDone {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("done sentinel never reached the event log")
	return nil
}

func ref(id, imageURL string) steam.ScreenshotRef {
	return steam.ScreenshotRef{SteamID: id, DetailURL: "https://example.com/d/" + id, FullImageURL: imageURL}
}

func importRequest() models.SteamImportRequest {
	return models.SteamImportRequest{
		UserID:           "76561198000000001",
		SteamLoginSecure: "cookie",
		SessionID:        "sessionid",
	}
}

func TestImportSessionHappyPath(t *testing.T) {
	imgA := encodePNG(t, 64, 48)
	imgB := encodePNG(t, 48, 64)
	imgC := encodeJPEG(t, 80, 60)

	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games: []steam.GameListing{
			{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 2},
			{AppID: 440, Name: "Team Fortress 2", ScreenshotCount: 1},
		},
		shots: map[int][]steam.ScreenshotRef{
			220: {ref("111", "https://img/a"), ref("112", "https://img/b")},
			440: {ref("211", "https://img/c")},
		},
		images: map[string][]byte{
			"https://img/a": imgA,
			"https://img/b": imgB,
			"https://img/c": imgC,
		},
	}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionCompleted, session.Status)
	assert.Equal(t, 2, session.TotalGames)
	assert.Equal(t, 2, session.CompletedGames)
	assert.Equal(t, 3, session.CompletedScreenshots)
	assert.Equal(t, 0, session.SkippedScreenshots)
	assert.Equal(t, 0, session.FailedScreenshots)
	assert.NotNil(t, session.FinishedAt)

	// Games and screenshots landed
	game, err := env.games.GetBySteamAppID(220)
	require.NoError(t, err)
	require.NotNil(t, game)
	shots, total, err := env.shots.ListByGame(game.ID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	for _, s := range shots {
		assert.FileExists(t, env.library.Abs(s.FilePath))
		require.NotNil(t, s.ThumbSmPath)
		assert.FileExists(t, env.library.Abs(*s.ThumbSmPath))
		assert.Equal(t, "steam_import", s.Source)
	}

	// Event log tells the whole story in order
	events := waitForDoneEvent(t, env, sessionID)

	kinds := make([]string, len(events))
	var firstShot, lastGame map[string]any
	for i, ev := range events {
		kinds[i] = ev.Kind
		assert.Equal(t, int64(i+1), ev.Seq, "seq must be gapless from 1")
		switch ev.Kind {
		case progress.KindScreenshotComplete:
			if firstShot == nil {
				firstShot = map[string]any{}
				require.NoError(t, json.Unmarshal([]byte(ev.Payload), &firstShot))
			}
		case progress.KindGameComplete:
			lastGame = map[string]any{}
			require.NoError(t, json.Unmarshal([]byte(ev.Payload), &lastGame))
		}
	}
	assert.Equal(t, progress.KindStatus, kinds[0])
	assert.Equal(t, progress.KindProfileValidated, kinds[1])
	assert.Equal(t, progress.KindGamesDiscovered, kinds[2])
	assert.Equal(t, progress.KindDone, kinds[len(kinds)-1])
	assert.Equal(t, progress.KindImportComplete, kinds[len(kinds)-2])

	// Screenshot events name their game and carry a running position
	require.NotNil(t, firstShot)
	assert.Equal(t, "Half-Life 2", firstShot["game_name"])
	assert.Equal(t, float64(1), firstShot["overall_progress"])

	// Game completion splits the session counters into per-game and overall
	require.NotNil(t, lastGame)
	assert.Equal(t, "Team Fortress 2", lastGame["name"])
	assert.Equal(t, float64(1), lastGame["completed"])
	assert.Equal(t, float64(0), lastGame["skipped"])
	assert.Equal(t, float64(0), lastGame["failed"])
	assert.Equal(t, float64(3), lastGame["overall_completed"])
	assert.Equal(t, float64(0), lastGame["overall_failed"])
}

func TestImportSkipsAlreadyImported(t *testing.T) {
	img := encodePNG(t, 32, 32)
	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games:   []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 1}},
		shots:   map[int][]steam.ScreenshotRef{220: {ref("111", "https://img/a")}},
		images:  map[string][]byte{"https://img/a": img},
	}
	env := newEngineEnv(t, stub)

	first, err := env.service.Start(importRequest())
	require.NoError(t, err)
	session := waitForTerminal(t, env, first)
	require.Equal(t, 1, session.CompletedScreenshots)

	second, err := env.service.Start(importRequest())
	require.NoError(t, err)
	session = waitForTerminal(t, env, second)

	assert.Equal(t, repository.SessionCompleted, session.Status)
	assert.Equal(t, 0, session.CompletedScreenshots)
	assert.Equal(t, 1, session.SkippedScreenshots, "second run must dedupe by steam id")
}

func TestImportRejectsConcurrentSession(t *testing.T) {
	stub := &stubSteam{
		profile:       &steam.Profile{ProfileName: "Gordon"},
		games:         []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 1}},
		shots:         map[int][]steam.ScreenshotRef{220: {ref("111", "https://img/a")}},
		images:        map[string][]byte{"https://img/a": encodePNG(t, 16, 16)},
		downloadDelay: 200 * time.Millisecond,
	}
	env := newEngineEnv(t, stub)

	first, err := env.service.Start(importRequest())
	require.NoError(t, err)

	_, err = env.service.Start(importRequest())
	assert.ErrorIs(t, err, ErrImportRunning)

	waitForTerminal(t, env, first)
}

func TestImportSimultaneousStartsAdmitOne(t *testing.T) {
	stub := &stubSteam{
		profile:       &steam.Profile{ProfileName: "Gordon"},
		games:         []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 1}},
		shots:         map[int][]steam.ScreenshotRef{220: {ref("111", "https://img/a")}},
		images:        map[string][]byte{"https://img/a": encodePNG(t, 16, 16)},
		downloadDelay: 100 * time.Millisecond,
	}
	env := newEngineEnv(t, stub)

	const starts = 8
	ids := make(chan int64, starts)
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := env.service.Start(importRequest())
			if err != nil {
				assert.ErrorIs(t, err, ErrImportRunning)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	require.Len(t, ids, 1, "exactly one simultaneous start may create a session")
	waitForTerminal(t, env, <-ids)
}

func TestImportFailsOnAuthError(t *testing.T) {
	stub := &stubSteam{validateErr: steam.ErrAuthRequired}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionFailed, session.Status)
	require.NotNil(t, session.LastError)
	assert.Contains(t, *session.LastError, "profile validation failed")
}

func TestImportContinuesPastFailedGame(t *testing.T) {
	img := encodePNG(t, 32, 32)
	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games: []steam.GameListing{
			{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 1},
			{AppID: 440, Name: "Team Fortress 2", ScreenshotCount: 1},
		},
		shots:        map[int][]steam.ScreenshotRef{440: {ref("211", "https://img/c")}},
		enumerateErr: map[int]error{220: steam.ErrParse},
		images:       map[string][]byte{"https://img/c": img},
	}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionCompleted, session.Status, "per-game failures do not fail the session")
	assert.Equal(t, 1, session.CompletedScreenshots)
	assert.Nil(t, session.LastError, "per-game errors live in the event log, not the session row")

	events := waitForDoneEvent(t, env, sessionID)
	var gameError *repository.ImportEvent
	for i, ev := range events {
		if ev.Kind == progress.KindGameError {
			gameError = &events[i]
		}
	}
	require.NotNil(t, gameError, "the failed game must emit its own error event")
	assert.Contains(t, gameError.Payload, "Half-Life 2")
}

func TestImportFailedScreenshotKeepsGoing(t *testing.T) {
	img := encodePNG(t, 32, 32)
	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games:   []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 2}},
		shots: map[int][]steam.ScreenshotRef{
			220: {ref("111", "https://img/missing"), ref("112", "https://img/b")},
		},
		images: map[string][]byte{"https://img/b": img},
	}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionCompleted, session.Status)
	assert.Equal(t, 1, session.CompletedScreenshots)
	assert.Equal(t, 1, session.FailedScreenshots)
}

func TestImportCancellationKeepsPartialWork(t *testing.T) {
	var refs []steam.ScreenshotRef
	images := make(map[string][]byte)
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://img/%d", i)
		refs = append(refs, ref(fmt.Sprintf("10%02d", i), url))
		images[url] = encodePNG(t, 16+i, 16)
	}
	stub := &stubSteam{
		profile:       &steam.Profile{ProfileName: "Gordon"},
		games:         []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: len(refs)}},
		shots:         map[int][]steam.ScreenshotRef{220: refs},
		images:        images,
		downloadDelay: 30 * time.Millisecond,
	}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	// Let a few screenshots through, then pull the plug
	time.Sleep(150 * time.Millisecond)
	require.True(t, env.service.Cancel(sessionID))

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionCancelled, session.Status)
	assert.Less(t, session.CompletedScreenshots, len(refs), "cancellation must stop the walk early")

	game, err := env.games.GetBySteamAppID(220)
	require.NoError(t, err)
	if game != nil {
		_, total, err := env.shots.ListByGame(game.ID, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, session.CompletedScreenshots, total, "partial imports survive cancellation")
	}

	// Cancelling a finished session reports not running once the session
	// goroutine unregisters itself
	assert.Eventually(t, func() bool { return !env.service.Cancel(sessionID) },
		time.Second, 10*time.Millisecond)

	// Event log ends with cancelled then done
	events := waitForDoneEvent(t, env, sessionID)
	assert.Equal(t, progress.KindDone, events[len(events)-1].Kind)
	assert.Equal(t, progress.KindImportCancelled, events[len(events)-2].Kind)
}

func TestImportDuplicateContentSkips(t *testing.T) {
	img := encodePNG(t, 40, 40)
	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games:   []steam.GameListing{{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 2}},
		shots: map[int][]steam.ScreenshotRef{
			// Different Steam ids, identical bytes
			220: {ref("111", "https://img/a"), ref("112", "https://img/a")},
		},
		images: map[string][]byte{"https://img/a": img},
	}
	env := newEngineEnv(t, stub)

	sessionID, err := env.service.Start(importRequest())
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, repository.SessionCompleted, session.Status)
	assert.Equal(t, 1, session.CompletedScreenshots)
	assert.Equal(t, 1, session.SkippedScreenshots)
}

func TestImportGameFilterSelection(t *testing.T) {
	img := encodePNG(t, 32, 32)
	stub := &stubSteam{
		profile: &steam.Profile{ProfileName: "Gordon"},
		games: []steam.GameListing{
			{AppID: 220, Name: "Half-Life 2", ScreenshotCount: 1},
			{AppID: 440, Name: "Team Fortress 2", ScreenshotCount: 1},
		},
		shots: map[int][]steam.ScreenshotRef{
			220: {ref("111", "https://img/a")},
			440: {ref("211", "https://img/b")},
		},
		images: map[string][]byte{"https://img/a": img, "https://img/b": img},
	}
	env := newEngineEnv(t, stub)

	req := importRequest()
	req.GameIDs = []int{440}
	sessionID, err := env.service.Start(req)
	require.NoError(t, err)

	session := waitForTerminal(t, env, sessionID)
	assert.Equal(t, 1, session.TotalGames)

	game220, err := env.games.GetBySteamAppID(220)
	require.NoError(t, err)
	assert.Nil(t, game220, "unselected games must not be touched")

	game440, err := env.games.GetBySteamAppID(440)
	require.NoError(t, err)
	assert.NotNil(t, game440)
}

// Upload tasks share the same ingest pipeline
func TestUploadTask(t *testing.T) {
	stub := &stubSteam{}
	env := newEngineEnv(t, stub)

	bus := progress.NewBus()
	gameService := NewGameService(env.games, env.library)
	ingestService := NewIngestService(env.shots, env.library, 85)
	uploads := NewUploadService(gameService, ingestService, bus)

	game, err := gameService.GetOrCreate("Stardew Valley", nil)
	require.NoError(t, err)

	files := []UploadFile{
		{Name: "farm.png", Data: encodePNG(t, 100, 80)},
		{Name: "mines.png", Data: encodePNG(t, 80, 100)},
	}
	taskID, err := uploads.Start(game, files)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	deadline := time.Now().Add(5 * time.Second)
	for bus.Get(UploadTopicKey(taskID)) != nil {
		require.True(t, time.Now().Before(deadline), "upload task never finished")
		time.Sleep(10 * time.Millisecond)
	}

	_, total, err := env.shots.ListByGame(game.ID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
