package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"
)

// Quality levels to try (descending order)
var qualityLevels = []int{85, 75, 65, 55, 45, 35}

// Longest-side sizes to try (descending order)
var dimensionLevels = []int{2048, 1600, 1280, 1024, 800, 640}

// CompressToLimit re-encodes an image until it fits within maxBytes,
// searching sizes then JPEG qualities. Returns the encoded bytes and their
// MIME type.
func CompressToLimit(data []byte, maxBytes int) ([]byte, string, error) {
	if len(data) <= maxBytes {
		return data, DetectMIME(data), nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	longest := max(bounds.Dx(), bounds.Dy())

	dimensions := []int{longest}
	for _, d := range dimensionLevels {
		if d < longest {
			dimensions = append(dimensions, d)
		}
	}

	// PNG and GIF get a lossless try at each size before falling back to JPEG
	smallest := []byte(nil)
	smallestMime := ""
	for _, dim := range dimensions {
		resized := img
		if dim < longest {
			resized = imaging.Fit(img, dim, dim, imaging.Lanczos)
		}

		if format == "png" || format == "gif" {
			if encoded, mimeType, err := encodeImage(resized, format, 0); err == nil {
				if len(encoded) <= maxBytes {
					return encoded, mimeType, nil
				}
				if smallest == nil || len(encoded) < len(smallest) {
					smallest, smallestMime = encoded, mimeType
				}
			}
		}

		for _, quality := range qualityLevels {
			encoded, mimeType, err := encodeImage(resized, "jpeg", quality)
			if err != nil {
				continue
			}
			if smallest == nil || len(encoded) < len(smallest) {
				smallest, smallestMime = encoded, mimeType
			}
			if len(encoded) <= maxBytes {
				return encoded, mimeType, nil
			}
		}
	}

	if smallest == nil {
		return nil, "", fmt.Errorf("failed to encode image")
	}
	return nil, "", fmt.Errorf("image could not be reduced below %d bytes (best %d bytes, %s)", maxBytes, len(smallest), smallestMime)
}

// encodeImage encodes an image in the specified format with given quality
func encodeImage(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err
	default:
		// JPEG output for everything else, including webp (decode-only)
		flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
		flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
		err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}
