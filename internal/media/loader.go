package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/paths"
)

// DefaultFetchTimeout bounds a single remote fetch.
const DefaultFetchTimeout = 30 * time.Second

// fetchFactor caps raw fetches at this multiple of MaxBytes, leaving room
// for images that compress below the limit.
const fetchFactor = 8

// Loader resolves a media reference (http(s) URL, file:// URL or local
// path) into bytes ready to upload.
type Loader struct {
	MaxBytes int64        // Outbound size limit; images above it are compressed
	Root     string       // Base for relative paths
	Client   *http.Client // nil uses a client with DefaultFetchTimeout
}

// NewLoader returns a Loader for the given limit and relative-path root.
func NewLoader(maxBytes int64, root string, timeout time.Duration) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		MaxBytes: maxBytes,
		Root:     root,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Load fetches ref and enforces the size limit.
func (l *Loader) Load(ctx context.Context, ref string) (*Loaded, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty media reference")
	}

	var (
		data []byte
		name string
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, name, err = l.fetch(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, perr := url.Parse(ref)
		if perr != nil {
			return nil, fmt.Errorf("parse media url: %w", perr)
		}
		data, name, err = l.readFile(u.Path)
	default:
		data, name, err = l.readFile(ref)
	}
	if err != nil {
		return nil, err
	}

	mimeType := DetectMIME(data)
	loaded := &Loaded{
		Data:     data,
		MimeType: mimeType,
		FileName: name,
		Kind:     KindFromMIME(mimeType),
		Source:   ref,
	}

	if int64(len(data)) <= l.limit() {
		return loaded, nil
	}
	if loaded.Kind != KindImage {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, name, len(data), l.limit())
	}

	compressed, outMime, err := CompressToLimit(data, int(l.limit()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	L_debug("media: compressed image", "source", ref, "from", len(data), "to", len(compressed))
	loaded.Data = compressed
	loaded.MimeType = outMime
	if outMime == "image/jpeg" && !strings.HasSuffix(strings.ToLower(loaded.FileName), ".jpg") {
		loaded.FileName = strings.TrimSuffix(loaded.FileName, filepath.Ext(loaded.FileName)) + ".jpg"
	}
	return loaded, nil
}

func (l *Loader) limit() int64 {
	if l.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return l.MaxBytes
}

func (l *Loader) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch media: %s returned %s", ref, resp.Status)
	}

	hardCap := l.limit() * fetchFactor
	data, err := io.ReadAll(io.LimitReader(resp.Body, hardCap+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > hardCap {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, ref, hardCap)
	}

	name := "media"
	if u, err := url.Parse(ref); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	return data, name, nil
}

func (l *Loader) readFile(p string) ([]byte, string, error) {
	p, err := paths.ExpandTilde(p)
	if err != nil {
		return nil, "", err
	}
	if !filepath.IsAbs(p) && l.Root != "" {
		p = filepath.Join(l.Root, p)
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, "", fmt.Errorf("media file: %w", err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("media file: %s is a directory", p)
	}
	if hardCap := l.limit() * fetchFactor; info.Size() > hardCap {
		return nil, "", fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, p, info.Size())
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("read media file: %w", err)
	}
	return data, filepath.Base(p), nil
}
