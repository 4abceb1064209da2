package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Characters that are invalid on at least one supported filesystem
var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// multiSpace collapses runs of whitespace left behind by sanitization
var multiSpace = regexp.MustCompile(`\s+`)

// Windows reserved device names, matched case-insensitively against the
// base name without extension
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// SanitizeName makes a string safe to use as a file or directory name on any
// supported filesystem. Empty results fall back to "unnamed".
func SanitizeName(name string) string {
	s := invalidPathChars.ReplaceAllString(name, "")
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " .")
	if s == "" {
		return "unnamed"
	}
	base := strings.ToLower(s)
	if dot := strings.Index(base, "."); dot >= 0 {
		base = base[:dot]
	}
	if reservedNames[base] {
		s = "_" + s
	}
	if len(s) > 200 {
		s = strings.TrimRight(s[:200], " .")
	}
	return s
}

// Library resolves screenshot storage paths under the library root.
// The layout is one directory per game holding originals, with generated
// thumbnails in a thumbs/ subdirectory:
//
//	{library}/{folder}/{filename}
//	{library}/{folder}/thumbs/{id}_sm.jpg
//	{library}/{folder}/thumbs/{id}_md.jpg
//
// Database file_path and thumb paths are stored relative to the root so the
// library can be moved or remounted.
type Library struct {
	Root string
}

// NewLibrary creates the library root if needed
func NewLibrary(root string) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}
	return &Library{Root: root}, nil
}

// GameDir returns the absolute directory for a game folder, creating it
func (l *Library) GameDir(folderName string) (string, error) {
	dir := filepath.Join(l.Root, folderName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create game directory: %w", err)
	}
	return dir, nil
}

// ThumbsDir returns the absolute thumbs directory for a game folder, creating it
func (l *Library) ThumbsDir(folderName string) (string, error) {
	dir := filepath.Join(l.Root, folderName, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create thumbs directory: %w", err)
	}
	return dir, nil
}

// RelScreenshotPath is the database-stored path of an original
func (l *Library) RelScreenshotPath(folderName, filename string) string {
	return filepath.ToSlash(filepath.Join(folderName, filename))
}

// RelThumbPath is the database-stored path of a generated thumbnail
func (l *Library) RelThumbPath(folderName string, id int64, size string) string {
	return filepath.ToSlash(filepath.Join(folderName, "thumbs", fmt.Sprintf("%d_%s.jpg", id, size)))
}

// Abs resolves a database-stored relative path to an absolute one
func (l *Library) Abs(relPath string) string {
	return filepath.Join(l.Root, filepath.FromSlash(relPath))
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// plus rename, so readers never observe a partial file
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move temp file into place: %w", err)
	}
	return nil
}

// RemoveIfExists deletes a file, ignoring missing files
func RemoveIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Cleanup failures must not mask the original error path
		log.Printf("warning: failed to remove %s: %v", path, err)
	}
}
