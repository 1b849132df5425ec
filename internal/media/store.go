package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// DefaultTTL is how long downloaded inbound media is kept.
const DefaultTTL = 24 * time.Hour

// Store saves inbound attachments under a base directory and removes them
// once they are older than the TTL.
type Store struct {
	baseDir string
	ttl     time.Duration
	maxSize int64
	mu      sync.Mutex
}

// NewStore creates the directory if needed.
func NewStore(dir string, ttl time.Duration, maxSize int64) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxBytes * fetchFactor
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	L_debug("media: store initialized", "dir", dir, "ttl", ttl.String())
	return &Store{baseDir: dir, ttl: ttl, maxSize: maxSize}, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitize(s string) string {
	safe := unsafeNameChars.ReplaceAllString(s, "_")
	if safe == "" || safe == "_" {
		return "unknown"
	}
	if len(safe) > 32 {
		safe = safe[:32]
	}
	return safe
}

// SaveInbound stores an inbound attachment under <surface>/<kind>/ and
// returns its absolute path.
func (s *Store) SaveInbound(data []byte, surface, mimeType string) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}
	dir := filepath.Join(s.baseDir, sanitize(surface), string(KindFromMIME(mimeType)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create media subdirectory: %w", err)
	}
	abs := filepath.Join(dir, uuid.NewString()[:8]+ExtensionFor(mimeType))
	if err := os.WriteFile(abs, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	L_trace("media: saved inbound", "path", abs, "size", len(data), "mime", mimeType)
	return abs, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// CleanOld removes files last modified before now-TTL.
func (s *Store) CleanOld(now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl)
	removed := 0
	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				L_trace("media: failed to remove expired file", "path", path, "error", err)
			} else {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
