package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/gamevault/gamevault/models"
	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
	"github.com/gamevault/gamevault/steam"
)

// ErrImportRunning is returned when the Steam user already has a running session
var ErrImportRunning = errors.New("an import is already running for this Steam user")

var numericSteamIDRe = regexp.MustCompile(`^\d{17}$`)

// SteamClient is the slice of the scraper the import engine needs
type SteamClient interface {
	ValidateProfile(ctx context.Context, creds steam.Credentials) (*steam.Profile, error)
	DiscoverGames(ctx context.Context, creds steam.Credentials) ([]steam.GameListing, error)
	EnumerateScreenshots(ctx context.Context, creds steam.Credentials, appID int) ([]steam.ScreenshotRef, error)
	FetchScreenshotDetail(ctx context.Context, creds steam.Credentials, ref *steam.ScreenshotRef) error
	DownloadImage(ctx context.Context, creds steam.Credentials, imageURL string) ([]byte, error)
}

// sessionEventStore binds the durable event log to one session for the bus
type sessionEventStore struct {
	repo      *repository.ImportEventRepository
	sessionID int64
}

func (s sessionEventStore) Append(seq int64, kind, payload string) error {
	return s.repo.Append(s.sessionID, seq, kind, payload)
}

// SteamImportService drives import sessions: one background goroutine per
// session walks the user's games serially, downloads each screenshot and
// hands it to the ingest pipeline, publishing progress along the way.
type SteamImportService struct {
	sessions *repository.ImportSessionRepository
	events   *repository.ImportEventRepository
	games    *GameService
	ingest   *IngestService
	scraper  SteamClient
	bus      *progress.Bus

	mu      sync.Mutex
	running map[int64]*runState
}

type runState struct {
	cancel    context.CancelFunc
	cancelled bool
}

// NewSteamImportService creates a new import service
func NewSteamImportService(
	sessions *repository.ImportSessionRepository,
	events *repository.ImportEventRepository,
	games *GameService,
	ingest *IngestService,
	scraper SteamClient,
	bus *progress.Bus,
) *SteamImportService {
	return &SteamImportService{
		sessions: sessions,
		events:   events,
		games:    games,
		ingest:   ingest,
		scraper:  scraper,
		bus:      bus,
		running:  make(map[int64]*runState),
	}
}

// SessionTopicKey names the progress topic for a session id
func SessionTopicKey(sessionID int64) string {
	return fmt.Sprintf("steam-import-%d", sessionID)
}

func credentialsFrom(userID, loginSecure, sessionID string, numericHint bool) steam.Credentials {
	return steam.Credentials{
		UserID:           userID,
		SteamLoginSecure: loginSecure,
		SessionID:        sessionID,
		IsNumericID:      numericHint || numericSteamIDRe.MatchString(userID),
	}
}

// ValidateProfile checks that the profile exists and the cookies can see it
func (s *SteamImportService) ValidateProfile(ctx context.Context, req models.SteamValidateRequest) models.SteamValidateResponse {
	creds := credentialsFrom(req.UserID, req.SteamLoginSecure, req.SessionID, false)
	profile, err := s.scraper.ValidateProfile(ctx, creds)
	if err != nil {
		return models.SteamValidateResponse{Valid: false, IsNumericID: creds.IsNumericID, Error: validationMessage(err)}
	}
	return models.SteamValidateResponse{
		Valid:       true,
		ProfileName: profile.ProfileName,
		AvatarURL:   profile.AvatarURL,
		IsNumericID: creds.IsNumericID,
	}
}

// ListGames discovers the games with screenshots visible for the profile
func (s *SteamImportService) ListGames(ctx context.Context, req models.SteamValidateRequest) ([]models.SteamGameInfo, error) {
	creds := credentialsFrom(req.UserID, req.SteamLoginSecure, req.SessionID, false)
	listings, err := s.scraper.DiscoverGames(ctx, creds)
	if err != nil {
		return nil, err
	}
	games := make([]models.SteamGameInfo, 0, len(listings))
	for _, l := range listings {
		games = append(games, models.SteamGameInfo{AppID: l.AppID, Name: l.Name, ScreenshotCount: l.ScreenshotCount})
	}
	return games, nil
}

// Start creates a session and launches the import in the background. At most
// one session may run per Steam user.
func (s *SteamImportService) Start(req models.SteamImportRequest) (int64, error) {
	// Check and create under one lock so two simultaneous starts cannot both
	// pass the running check
	s.mu.Lock()
	active, err := s.sessions.HasRunning(req.UserID)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if active {
		s.mu.Unlock()
		return 0, ErrImportRunning
	}

	sessionID, err := s.sessions.Create(req.UserID)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	topic := s.bus.Open(SessionTopicKey(sessionID), sessionEventStore{s.events, sessionID}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	state := &runState{cancel: cancel}
	s.running[sessionID] = state
	s.mu.Unlock()

	creds := credentialsFrom(req.UserID, req.SteamLoginSecure, req.SessionID, req.IsNumericID)
	go s.run(ctx, sessionID, state, topic, creds, req.GameIDs)

	log.Printf("Started Steam import session %d for user %s", sessionID, req.UserID)
	return sessionID, nil
}

// Cancel requests cooperative cancellation of a running session. Returns
// false when the session is not running.
func (s *SteamImportService) Cancel(sessionID int64) bool {
	s.mu.Lock()
	state, ok := s.running[sessionID]
	if ok {
		state.cancelled = true
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	state.cancel()
	log.Printf("Cancellation requested for import session %d", sessionID)
	return true
}

// counters tracks session progress between events
type counters struct {
	totalGames       int
	completedGames   int
	totalScreenshots int
	completed        int
	skipped          int
	failed           int
}

func (c counters) payload() map[string]int {
	return map[string]int{
		"total_games":           c.totalGames,
		"completed_games":       c.completedGames,
		"total_screenshots":     c.totalScreenshots,
		"completed_screenshots": c.completed,
		"skipped_screenshots":   c.skipped,
		"failed_screenshots":    c.failed,
	}
}

// processed counts the screenshots handled so far, whatever the outcome
func (c counters) processed() int {
	return c.completed + c.skipped + c.failed
}

// gameTally is one game's share of the session counters
type gameTally struct {
	completed int
	skipped   int
	failed    int
}

func (s *SteamImportService) run(ctx context.Context, sessionID int64, state *runState, topic *progress.Topic, creds steam.Credentials, gameIDs []int) {
	defer func() {
		s.mu.Lock()
		delete(s.running, sessionID)
		s.mu.Unlock()
	}()

	var c counters
	finish := func(status, lastError string) {
		if err := s.sessions.Finish(sessionID, status, c.completed, c.skipped, c.failed, lastError); err != nil {
			log.Printf("Failed to finalize import session %d: %v", sessionID, err)
		}
		payload := map[string]any{"session_id": sessionID, "counters": c.payload()}
		if lastError != "" {
			payload["error"] = lastError
		}
		switch status {
		case repository.SessionCompleted:
			topic.Publish(progress.KindImportComplete, payload)
		case repository.SessionCancelled:
			topic.Publish(progress.KindImportCancelled, payload)
		default:
			topic.Publish(progress.KindImportError, payload)
		}
		topic.Close()
		log.Printf("Import session %d finished: %s (%d imported, %d skipped, %d failed)",
			sessionID, status, c.completed, c.skipped, c.failed)
	}

	topic.Publish(progress.KindStatus, map[string]any{"message": "starting import", "session_id": sessionID})

	profile, err := s.scraper.ValidateProfile(ctx, creds)
	if err != nil {
		if s.wasCancelled(ctx, state) {
			finish(repository.SessionCancelled, "")
		} else {
			finish(repository.SessionFailed, fmt.Sprintf("profile validation failed: %v", err))
		}
		return
	}
	topic.Publish(progress.KindProfileValidated, map[string]any{
		"profile_name": profile.ProfileName,
		"avatar_url":   profile.AvatarURL,
	})

	listings, err := s.scraper.DiscoverGames(ctx, creds)
	if err != nil {
		if s.wasCancelled(ctx, state) {
			finish(repository.SessionCancelled, "")
		} else {
			finish(repository.SessionFailed, fmt.Sprintf("game discovery failed: %v", err))
		}
		return
	}
	selected := filterGames(listings, gameIDs)

	c.totalGames = len(selected)
	for _, g := range selected {
		// Advertised counts; actual enumeration may differ
		c.totalScreenshots += g.ScreenshotCount
	}
	topic.Publish(progress.KindGamesDiscovered, map[string]any{
		"games":             selected,
		"total_games":       c.totalGames,
		"total_screenshots": c.totalScreenshots,
	})
	s.saveProgress(sessionID, c)

	for i, listing := range selected {
		if s.wasCancelled(ctx, state) {
			finish(repository.SessionCancelled, "")
			return
		}

		topic.Publish(progress.KindGameStart, map[string]any{
			"app_id":     listing.AppID,
			"name":       listing.Name,
			"game_index": i + 1,
			"total":      c.totalGames,
		})

		tally, gameErr := s.importGame(ctx, sessionID, state, topic, creds, listing, &c)
		if gameErr != nil {
			if errors.Is(gameErr, steam.ErrAuthRequired) {
				finish(repository.SessionFailed, fmt.Sprintf("authentication lost during import: %v", gameErr))
				return
			}
			if s.wasCancelled(ctx, state) {
				finish(repository.SessionCancelled, "")
				return
			}
			// Per-game failure: emit its error event and move on. Only
			// session-fatal errors reach the session row's last_error.
			log.Printf("Import session %d: game %d (%s): %v", sessionID, listing.AppID, listing.Name, gameErr)
			topic.Publish(progress.KindGameError, map[string]any{
				"app_id": listing.AppID,
				"name":   listing.Name,
				"error":  gameErr.Error(),
			})
		}

		c.completedGames++
		topic.Publish(progress.KindGameComplete, map[string]any{
			"app_id":            listing.AppID,
			"name":              listing.Name,
			"completed":         tally.completed,
			"skipped":           tally.skipped,
			"failed":            tally.failed,
			"overall_completed": c.completed,
			"overall_skipped":   c.skipped,
			"overall_failed":    c.failed,
			"counters":          c.payload(),
		})
		s.saveProgress(sessionID, c)
	}

	if s.wasCancelled(ctx, state) {
		finish(repository.SessionCancelled, "")
		return
	}
	finish(repository.SessionCompleted, "")
}

// importGame enumerates and ingests one game's screenshots. The returned
// error is game-fatal; individual screenshot failures only bump counters.
func (s *SteamImportService) importGame(ctx context.Context, sessionID int64, state *runState, topic *progress.Topic, creds steam.Credentials, listing steam.GameListing, c *counters) (gameTally, error) {
	var tally gameTally

	game, err := s.games.GetOrCreate(listing.Name, &listing.AppID)
	if err != nil {
		return tally, fmt.Errorf("failed to resolve game: %w", err)
	}

	refs, err := s.scraper.EnumerateScreenshots(ctx, creds, listing.AppID)
	if err != nil {
		return tally, fmt.Errorf("failed to enumerate screenshots: %w", err)
	}

	// Enumeration beats the advertised filter count when they disagree
	if len(refs) != listing.ScreenshotCount {
		c.totalScreenshots += len(refs) - listing.ScreenshotCount
	}

	defer s.games.RefreshStats(game.ID)

	for _, ref := range refs {
		if s.wasCancelled(ctx, state) {
			return tally, nil
		}

		outcome, err := s.importScreenshot(ctx, creds, game, ref)
		switch {
		case err != nil:
			if errors.Is(err, steam.ErrAuthRequired) || errors.Is(err, context.Canceled) {
				return tally, err
			}
			c.failed++
			tally.failed++
			topic.Publish(progress.KindScreenshotFailed, map[string]any{
				"steam_id":         ref.SteamID,
				"app_id":           listing.AppID,
				"game_name":        listing.Name,
				"error":            err.Error(),
				"overall_progress": c.processed(),
				"counters":         c.payload(),
			})
		case outcome.Skipped:
			c.skipped++
			tally.skipped++
			topic.Publish(progress.KindScreenshotSkipped, map[string]any{
				"steam_id":         ref.SteamID,
				"app_id":           listing.AppID,
				"game_name":        listing.Name,
				"reason":           outcome.SkipReason,
				"overall_progress": c.processed(),
				"counters":         c.payload(),
			})
		default:
			c.completed++
			tally.completed++
			topic.Publish(progress.KindScreenshotComplete, map[string]any{
				"steam_id":         ref.SteamID,
				"app_id":           listing.AppID,
				"game_name":        listing.Name,
				"screenshot_id":    outcome.ScreenshotID,
				"filename":         outcome.Filename,
				"overall_progress": c.processed(),
				"counters":         c.payload(),
			})
		}
		s.saveProgress(sessionID, *c)
	}
	return tally, nil
}

// importScreenshot handles one screenshot: dedup by Steam id, detail fetch,
// download, ingest
func (s *SteamImportService) importScreenshot(ctx context.Context, creds steam.Credentials, game *repository.Game, ref steam.ScreenshotRef) (*IngestResult, error) {
	exists, err := s.ingest.screenshots.ExistsBySteamID(game.ID, ref.SteamID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &IngestResult{Skipped: true, SkipReason: "already imported"}, nil
	}

	if err := s.scraper.FetchScreenshotDetail(ctx, creds, &ref); err != nil {
		return nil, fmt.Errorf("failed to load screenshot details: %w", err)
	}

	data, err := s.scraper.DownloadImage(ctx, creds, ref.FullImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download screenshot: %w", err)
	}

	var takenAt *string
	if ref.TakenAt != nil {
		formatted := ref.TakenAt.UTC().Format("2006-01-02 15:04:05")
		takenAt = &formatted
	}
	var description *string
	if ref.Description != "" {
		description = &ref.Description
	}
	steamID := ref.SteamID

	return s.ingest.Ingest(ctx, IngestParams{
		Game:              game,
		Data:              data,
		BaseName:          "steam_" + ref.SteamID,
		TakenAt:           takenAt,
		Source:            "steam_import",
		SteamScreenshotID: &steamID,
		SteamDescription:  description,
	})
}

// wasCancelled distinguishes a user cancel from other context errors
func (s *SteamImportService) wasCancelled(ctx context.Context, state *runState) bool {
	s.mu.Lock()
	cancelled := state.cancelled
	s.mu.Unlock()
	return cancelled || ctx.Err() != nil
}

func (s *SteamImportService) saveProgress(sessionID int64, c counters) {
	err := s.sessions.UpdateProgress(sessionID, c.totalGames, c.completedGames,
		c.totalScreenshots, c.completed, c.skipped, c.failed)
	if err != nil {
		log.Printf("Failed to persist progress for session %d: %v", sessionID, err)
	}
}

func filterGames(listings []steam.GameListing, gameIDs []int) []steam.GameListing {
	if len(gameIDs) == 0 {
		return listings
	}
	wanted := make(map[int]bool, len(gameIDs))
	for _, id := range gameIDs {
		wanted[id] = true
	}
	var selected []steam.GameListing
	for _, l := range listings {
		if wanted[l.AppID] {
			selected = append(selected, l)
		}
	}
	return selected
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, steam.ErrNotFound):
		return "profile not found"
	case errors.Is(err, steam.ErrAuthRequired):
		return "profile is private or the session cookies are invalid"
	case errors.Is(err, steam.ErrRateLimited):
		return "Steam is rate limiting requests, try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return "Steam did not respond in time"
	default:
		return "could not load the Steam profile"
	}
}
