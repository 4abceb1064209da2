package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gamevault/gamevault/progress"
	"github.com/gamevault/gamevault/repository"
)

// UploadFile is one file from a multipart upload request, already read
type UploadFile struct {
	Name string
	Data []byte
}

// UploadService runs direct uploads through the shared ingest pipeline,
// one background task per request with its own progress topic
type UploadService struct {
	games  *GameService
	ingest *IngestService
	bus    *progress.Bus
}

// NewUploadService creates a new upload service
func NewUploadService(games *GameService, ingest *IngestService, bus *progress.Bus) *UploadService {
	return &UploadService{games: games, ingest: ingest, bus: bus}
}

// UploadTopicKey names the progress topic for an upload task id
func UploadTopicKey(taskID string) string {
	return "upload-" + taskID
}

// Start launches a background task ingesting the given files into a game and
// returns the task id to poll progress with. Upload topics are live-only,
// there is no durable replay for them.
func (s *UploadService) Start(game *repository.Game, files []UploadFile) (string, error) {
	taskID := uuid.New().String()
	topic := s.bus.Open(UploadTopicKey(taskID), nil, 0)

	go s.run(topic, game, files)

	log.Printf("Started upload task %s: %d files into %q", taskID, len(files), game.Name)
	return taskID, nil
}

func (s *UploadService) run(topic *progress.Topic, game *repository.Game, files []UploadFile) {
	defer topic.Close()

	completed, skipped, failed := 0, 0, 0
	counts := func() map[string]int {
		return map[string]int{
			"total":     len(files),
			"completed": completed,
			"skipped":   skipped,
			"failed":    failed,
		}
	}

	topic.Publish(progress.KindStatus, map[string]any{
		"message": fmt.Sprintf("uploading %d files", len(files)),
		"game_id": game.ID,
	})

	for _, f := range files {
		result, err := s.ingest.Ingest(context.Background(), IngestParams{
			Game:     game,
			Data:     f.Data,
			BaseName: uploadBaseName(game.Name, f.Name),
			Source:   "upload",
		})
		switch {
		case err != nil:
			failed++
			topic.Publish(progress.KindScreenshotFailed, map[string]any{
				"filename": f.Name, "error": err.Error(), "counters": counts(),
			})
		case result.Skipped:
			skipped++
			topic.Publish(progress.KindScreenshotSkipped, map[string]any{
				"filename": f.Name, "reason": result.SkipReason, "counters": counts(),
			})
		default:
			completed++
			topic.Publish(progress.KindScreenshotComplete, map[string]any{
				"filename": result.Filename, "screenshot_id": result.ScreenshotID, "counters": counts(),
			})
		}
	}

	s.games.RefreshStats(game.ID)
	topic.Publish(progress.KindImportComplete, map[string]any{"game_id": game.ID, "counters": counts()})
}

// uploadBaseName names uploaded screenshots "{Game} {timestamp}" unless the
// original filename already looks descriptive
func uploadBaseName(gameName, originalName string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if len(SanitizeName(base)) >= 8 && SanitizeName(base) != "unnamed" {
		return base
	}
	return fmt.Sprintf("%s %s", gameName, time.Now().Format("2006_01_02 15_04"))
}
