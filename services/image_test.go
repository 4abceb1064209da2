package services

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 100, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestSniffFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "jpg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "png"},
		{"webp", append([]byte("RIFF"), append([]byte{1, 2, 3, 4}, []byte("WEBP")...)...), "webp"},
		{"bmp", []byte("BMxxxx"), "bmp"},
		{"tiff-le", []byte{'I', 'I', 0x2A, 0x00, 0x01}, "tiff"},
		{"tiff-be", []byte{'M', 'M', 0x00, 0x2A, 0x01}, "tiff"},
		{"gif", []byte("GIF89a..."), "gif"},
	}
	for _, tc := range cases {
		got, err := SniffFormat(tc.data)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestSniffFormatRejectsUnknown(t *testing.T) {
	_, err := SniffFormat([]byte("<html>not an image</html>"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = SniffFormat(nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestAnalyzeImage(t *testing.T) {
	data := encodePNG(t, 320, 200)

	info, err := AnalyzeImage(data)
	require.NoError(t, err)

	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 200, info.Height)
	assert.Equal(t, "png", info.Format)
	assert.Len(t, info.FileHash, 64, "sha256 hex")
	assert.Empty(t, info.ExifData, "png has no exif block")
}

func TestAnalyzeImageSameContentSameHash(t *testing.T) {
	data := encodePNG(t, 64, 64)
	a, err := AnalyzeImage(data)
	require.NoError(t, err)
	b, err := AnalyzeImage(data)
	require.NoError(t, err)
	assert.Equal(t, a.FileHash, b.FileHash)
}

func TestAnalyzeImageRejectsTruncated(t *testing.T) {
	// Valid magic, garbage body
	_, err := AnalyzeImage([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x01, 0x02})
	assert.Error(t, err)
}

func TestExtractExifSegment(t *testing.T) {
	exifPayload := append([]byte("Exif\x00\x00"), []byte("tiff-data-here")...)
	segLen := len(exifPayload) + 2

	var jpg []byte
	jpg = append(jpg, 0xFF, 0xD8)                                // SOI
	jpg = append(jpg, 0xFF, 0xE1, byte(segLen>>8), byte(segLen)) // APP1
	jpg = append(jpg, exifPayload...)
	jpg = append(jpg, 0xFF, 0xDA, 0x00, 0x02) // SOS

	got := extractExifSegment(jpg)
	assert.Equal(t, exifPayload, got)
}

func TestExtractExifSegmentNone(t *testing.T) {
	assert.Nil(t, extractExifSegment(encodeJPEG(t, 8, 8)))
}

func TestGenerateThumbnailsLandscape(t *testing.T) {
	dir := t.TempDir()
	data := encodeJPEG(t, 1600, 900)
	smPath := filepath.Join(dir, "1_sm.jpg")
	mdPath := filepath.Join(dir, "1_md.jpg")

	require.NoError(t, GenerateThumbnails(data, smPath, mdPath, 85))

	sm := decodeConfig(t, smPath)
	assert.Equal(t, 400, sm.Height, "landscape thumbnails scale to the short edge")
	md := decodeConfig(t, mdPath)
	assert.Equal(t, 800, md.Height)
}

func TestGenerateThumbnailsPortrait(t *testing.T) {
	dir := t.TempDir()
	data := encodeJPEG(t, 900, 1600)
	smPath := filepath.Join(dir, "1_sm.jpg")
	mdPath := filepath.Join(dir, "1_md.jpg")

	require.NoError(t, GenerateThumbnails(data, smPath, mdPath, 85))

	sm := decodeConfig(t, smPath)
	assert.Equal(t, 400, sm.Width)
	md := decodeConfig(t, mdPath)
	assert.Equal(t, 800, md.Width)
}

func TestGenerateThumbnailsNeverUpscales(t *testing.T) {
	dir := t.TempDir()
	data := encodeJPEG(t, 300, 200)
	smPath := filepath.Join(dir, "1_sm.jpg")
	mdPath := filepath.Join(dir, "1_md.jpg")

	require.NoError(t, GenerateThumbnails(data, smPath, mdPath, 85))

	sm := decodeConfig(t, smPath)
	assert.Equal(t, 300, sm.Width)
	assert.Equal(t, 200, sm.Height)
	md := decodeConfig(t, mdPath)
	assert.Equal(t, 300, md.Width)
}

func decodeConfig(t *testing.T, path string) image.Config {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg
}
