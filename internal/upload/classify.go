package upload

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

var (
	textExtensions  = []string{".txt", ".doc", ".docx"}
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}
)

// Classify decides the upload type from the file extension, then the
// content type. Unknown files are treated as transcripts.
func Classify(filename, contentType string) models.UploadType {
	ext := strings.ToLower(filepath.Ext(filename))
	ct := strings.ToLower(contentType)
	switch {
	case contains(textExtensions, ext) || strings.Contains(ct, "text"):
		return models.UploadTranscript
	case contains(imageExtensions, ext) || strings.Contains(ct, "image"):
		return models.UploadPhoto
	default:
		return models.UploadTranscript
	}
}

// PhotoInfo is what DecodeConfig learns about a photo.
type PhotoInfo struct {
	Format string
	Width  int
	Height int
}

// InspectPhoto checks that data is a decodable image in one of the
// supported formats.
func InspectPhoto(data []byte) (PhotoInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return PhotoInfo{}, fmt.Errorf("not a supported image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return PhotoInfo{}, fmt.Errorf("image has no pixels")
	}
	return PhotoInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
