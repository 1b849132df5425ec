// Package media loads outbound attachments and stores inbound ones.
// It handles MIME detection from magic bytes and image compression to a
// byte limit.
package media

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the default outbound media size limit (5MB).
const DefaultMaxBytes = 5 * 1024 * 1024

// ErrTooLarge is returned when media exceeds the limit and cannot be compressed.
var ErrTooLarge = errors.New("media exceeds size limit")

// Kind is the coarse media category platforms send differently.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// KindFromMIME maps a MIME type to a Kind. Unknown types are documents.
func KindFromMIME(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// Loaded is media ready to upload.
type Loaded struct {
	Data     []byte
	MimeType string
	FileName string
	Kind     Kind
	Source   string // URL or path it was loaded from
}

// Size returns the size in bytes
func (l *Loaded) Size() int {
	return len(l.Data)
}

// DetectMIME returns the MIME type from magic bytes (not file extension),
// without parameters such as charset.
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

// ExtensionFor returns the usual file extension (with dot) for a MIME type,
// or ".bin" when unknown.
func ExtensionFor(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
