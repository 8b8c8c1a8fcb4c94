package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodableImage is returned when bytes are not in a supported format.
var ErrUndecodableImage = errors.New("input is not a decodable image")

// DetectFormat reads only the image header and returns the format name
// ("png", "jpeg", "gif", "bmp", "tiff" or "webp").
func DetectFormat(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty dimensions", ErrUndecodableImage)
	}
	return format, nil
}

// ContentTypeFor maps a detected format name to its MIME type.
func ContentTypeFor(format string) string {
	switch format {
	case "png", "jpeg", "gif", "bmp", "tiff", "webp":
		return "image/" + format
	default:
		return "application/octet-stream"
	}
}
