package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noisePNG(t *testing.T, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestKindFromMIME(t *testing.T) {
	tests := map[string]Kind{
		"image/png":       KindImage,
		"video/mp4":       KindVideo,
		"audio/ogg":       KindAudio,
		"application/pdf": KindDocument,
		"":                KindDocument,
	}
	for in, want := range tests {
		if got := KindFromMIME(in); got != want {
			t.Errorf("KindFromMIME(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLocalRelative(t *testing.T) {
	root := t.TempDir()
	data := noisePNG(t, 8)
	if err := os.WriteFile(filepath.Join(root, "pic.png"), data, 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(0, root, 0)
	got, err := l.Load(context.Background(), "./pic.png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MimeType != "image/png" || got.Kind != KindImage || got.FileName != "pic.png" {
		t.Errorf("loaded = %+v", got)
	}
}

func TestLoadCompressesOversizedImage(t *testing.T) {
	root := t.TempDir()
	data := noisePNG(t, 1000)
	path := filepath.Join(root, "big.png")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	limit := int64(500 * 1024)
	if int64(len(data)) <= limit {
		t.Fatalf("fixture too small: %d", len(data))
	}
	got, err := NewLoader(limit, root, 0).Load(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if int64(got.Size()) > limit {
		t.Errorf("size %d exceeds limit %d", got.Size(), limit)
	}
	if got.MimeType != "image/jpeg" || got.FileName != "big.jpg" {
		t.Errorf("mime=%s name=%s", got.MimeType, got.FileName)
	}
}

func TestLoadRejectsOversizedDocument(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "blob.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 2048), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewLoader(1024, root, 0).Load(context.Background(), path)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestLoadHTTP(t *testing.T) {
	data := noisePNG(t, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	l := NewLoader(0, "", time.Second)
	got, err := l.Load(context.Background(), srv.URL+"/img/cat.png")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.FileName != "cat.png" || got.Kind != KindImage {
		t.Errorf("loaded = %+v", got)
	}
	if _, err := l.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestSplitMediaFromOutput(t *testing.T) {
	text, refs := SplitMediaFromOutput("Here you go\nMEDIA: `./media/out/chart.png`\nMEDIA:/etc/passwd\nMEDIA: https://example.com/a.jpg")
	if len(refs) != 2 || refs[0] != "./media/out/chart.png" || refs[1] != "https://example.com/a.jpg" {
		t.Fatalf("refs = %v", refs)
	}
	if text != "Here you go\nMEDIA:/etc/passwd" {
		t.Fatalf("text = %q", text)
	}
}

func TestStoreSaveAndClean(t *testing.T) {
	s, err := NewStore(t.TempDir(), time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.SaveInbound(noisePNG(t, 4), "whatsapp", "")
	if err != nil {
		t.Fatalf("SaveInbound: %v", err)
	}
	if filepath.Ext(p) != ".png" || filepath.Base(filepath.Dir(p)) != "image" {
		t.Errorf("path = %s", p)
	}

	if n, _ := s.CleanOld(time.Now()); n != 0 {
		t.Errorf("fresh file removed")
	}
	if n, _ := s.CleanOld(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Errorf("expired file not removed, n=%d", n)
	}
}
