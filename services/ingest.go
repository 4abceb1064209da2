package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gamevault/gamevault/database"
	"github.com/gamevault/gamevault/repository"
)

// ingestTimeout bounds one screenshot end to end, download excluded
const ingestTimeout = 30 * time.Second

// IngestParams describes one screenshot to store
type IngestParams struct {
	Game     *repository.Game
	Data     []byte
	BaseName string // filename without extension; ingest appends the sniffed one
	TakenAt  *string
	Source   string // "steam_import" or "upload"

	SteamScreenshotID *string
	SteamDescription  *string
}

// IngestResult reports where a screenshot landed, or why it was skipped
type IngestResult struct {
	ScreenshotID int64
	Filename     string
	Skipped      bool
	SkipReason   string
}

// IngestService stores screenshot payloads: validation, dedup, atomic file
// placement, thumbnails, database row and search index in one pass. Shared by
// the Steam importer and direct uploads.
type IngestService struct {
	screenshots  *repository.ScreenshotRepository
	library      *Library
	thumbQuality int
}

// NewIngestService creates a new ingest service
func NewIngestService(screenshots *repository.ScreenshotRepository, library *Library, thumbQuality int) *IngestService {
	return &IngestService{screenshots: screenshots, library: library, thumbQuality: thumbQuality}
}

// Ingest runs the full pipeline for one screenshot. A duplicate content hash
// within the game is a skip, not an error. Any failure leaves no partial
// state behind: files written so far are removed and the transaction rolls
// back together.
func (s *IngestService) Ingest(ctx context.Context, p IngestParams) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	info, err := AnalyzeImage(p.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}

	existing, err := s.screenshots.GetByHash(p.Game.ID, info.FileHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &IngestResult{
			ScreenshotID: existing.ID,
			Filename:     existing.Filename,
			Skipped:      true,
			SkipReason:   "duplicate content",
		}, nil
	}

	gameDir, err := s.library.GameDir(p.Game.FolderName)
	if err != nil {
		return nil, err
	}
	filename, absPath := s.resolveFilename(gameDir, p.BaseName, info.Format, info.FileHash)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := WriteFileAtomic(absPath, p.Data); err != nil {
		return nil, fmt.Errorf("failed to store screenshot file: %w", err)
	}

	thumbsDir, err := s.library.ThumbsDir(p.Game.FolderName)
	if err != nil {
		RemoveIfExists(absPath)
		return nil, err
	}

	var id int64
	var smAbs, mdAbs string
	err = database.WithTransaction(func(tx *sql.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var exif *string
		if info.ExifData != "" {
			exif = &info.ExifData
		}
		newID, err := s.screenshots.InsertTx(tx, &repository.Screenshot{
			GameID:            p.Game.ID,
			Filename:          filename,
			FilePath:          s.library.RelScreenshotPath(p.Game.FolderName, filename),
			FileSize:          int64(len(p.Data)),
			Width:             info.Width,
			Height:            info.Height,
			Format:            info.Format,
			TakenAt:           p.TakenAt,
			SteamScreenshotID: p.SteamScreenshotID,
			SteamDescription:  p.SteamDescription,
			Source:            p.Source,
			FileHash:          info.FileHash,
			ExifData:          exif,
		})
		if err != nil {
			return err
		}
		id = newID

		smAbs = fmt.Sprintf("%s/%d_sm.jpg", thumbsDir, id)
		mdAbs = fmt.Sprintf("%s/%d_md.jpg", thumbsDir, id)
		if err := GenerateThumbnails(p.Data, smAbs, mdAbs, s.thumbQuality); err != nil {
			return err
		}

		smRel := s.library.RelThumbPath(p.Game.FolderName, id, "sm")
		mdRel := s.library.RelThumbPath(p.Game.FolderName, id, "md")
		if err := s.screenshots.SetThumbPathsTx(tx, id, smRel, mdRel); err != nil {
			return err
		}
		return s.screenshots.SyncFTSTx(tx, id)
	})
	if err != nil {
		RemoveIfExists(absPath)
		RemoveIfExists(smAbs)
		RemoveIfExists(mdAbs)
		if database.IsUniqueViolation(err) {
			// Another worker stored the same content or Steam id first
			return &IngestResult{Skipped: true, SkipReason: "duplicate"}, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ingest timed out after %s", ingestTimeout)
		}
		return nil, err
	}

	return &IngestResult{ScreenshotID: id, Filename: filename}, nil
}

// resolveFilename appends the sniffed extension and dodges on-disk collisions
// by suffixing the first 8 hex chars of the content hash
func (s *IngestService) resolveFilename(gameDir, baseName, format, fileHash string) (string, string) {
	base := SanitizeName(baseName)
	filename := base + "." + format
	absPath := gameDir + "/" + filename
	if _, err := os.Stat(absPath); err == nil {
		filename = fmt.Sprintf("%s_%s.%s", base, fileHash[:8], format)
		absPath = gameDir + "/" + filename
	}
	return filename, absPath
}
