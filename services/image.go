package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	// Decoders for the formats Steam and uploads can deliver
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	_ "image/gif"
	_ "image/png"
)

// Thumbnail short-edge targets. Landscape images scale to these heights,
// portrait images to these widths.
const (
	thumbSmallEdge  = 400
	thumbMediumEdge = 800
)

// ImageInfo describes a decoded screenshot
type ImageInfo struct {
	Width    int
	Height   int
	Format   string
	FileHash string
	ExifData string
}

// ErrUnsupportedFormat marks payloads whose magic bytes match no known image type
var ErrUnsupportedFormat = fmt.Errorf("unsupported image format")

// SniffFormat identifies an image by magic bytes, not by filename or
// Content-Type. Returns the canonical extension.
func SniffFormat(data []byte) (string, error) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "jpg", nil
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png", nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", nil
	case len(data) >= 2 && bytes.Equal(data[:2], []byte("BM")):
		return "bmp", nil
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte{'I', 'I', 0x2A, 0x00}) || bytes.Equal(data[:4], []byte{'M', 'M', 0x00, 0x2A})):
		return "tiff", nil
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif", nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// AnalyzeImage validates and describes an image payload: format by magic
// bytes, dimensions by decoding, content hash, and the raw EXIF block for
// JPEGs
func AnalyzeImage(data []byte) (*ImageInfo, error) {
	format, err := SniffFormat(data)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	sum := sha256.Sum256(data)
	info := &ImageInfo{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		FileHash: hex.EncodeToString(sum[:]),
	}
	if format == "jpg" {
		if exif := extractExifSegment(data); exif != nil {
			info.ExifData = base64.StdEncoding.EncodeToString(exif)
		}
	}
	return info, nil
}

// extractExifSegment walks JPEG markers for the APP1 Exif block and returns
// it raw. Parsing the TIFF structure inside is left to clients.
func extractExifSegment(data []byte) []byte {
	// Skip SOI
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		// Entropy-coded data begins at SOS, nothing useful after
		if marker == 0xDA {
			return nil
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			return nil
		}
		if marker == 0xE1 {
			seg := data[i+4 : i+2+segLen]
			if len(seg) >= 6 && bytes.Equal(seg[:6], []byte("Exif\x00\x00")) {
				return seg
			}
		}
		i += 2 + segLen
	}
	return nil
}

// GenerateThumbnails writes the small and medium JPEG thumbnails for an image
// to the given paths. The two sizes render in parallel. Images already
// smaller than a target are written at original size rather than upscaled.
func GenerateThumbnails(data []byte, smPath, mdPath string, quality int) error {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error { return writeThumb(src, smPath, thumbSmallEdge, quality) })
	g.Go(func() error { return writeThumb(src, mdPath, thumbMediumEdge, quality) })
	return g.Wait()
}

func writeThumb(src image.Image, path string, edge, quality int) error {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	thumb := src
	if w > h {
		if h > edge {
			thumb = imaging.Resize(src, 0, edge, imaging.Lanczos)
		}
	} else {
		if w > edge {
			thumb = imaging.Resize(src, edge, 0, imaging.Lanczos)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	if err := WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return nil
}
