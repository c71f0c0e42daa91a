package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func servePNG(t *testing.T, width, height int) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 120, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPreviewer_GeneratesBoundedThumbnail(t *testing.T) {
	srv := servePNG(t, 64, 32)
	dir := t.TempDir()

	p, err := NewPreviewer(context.Background(), Options{
		LocalDir:        dir,
		DownloadTimeout: 2 * time.Second,
		ThumbWidth:      16,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new previewer: %v", err)
	}

	key, err := p.Generate(context.Background(), "post-1", srv.URL)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if key != "post-previews/post-1.jpg" {
		t.Fatalf("unexpected key %q", key)
	}

	data, err := os.ReadFile(filepath.Join(dir, "post-previews", "post-1.jpg"))
	if err != nil {
		t.Fatalf("preview not written: %v", err)
	}
	thumb, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg preview, got %s", format)
	}
	// Fit preserves aspect ratio inside the 16x16 bound.
	if thumb.Bounds().Dx() != 16 || thumb.Bounds().Dy() != 8 {
		t.Fatalf("expected 16x8 thumbnail, got %dx%d", thumb.Bounds().Dx(), thumb.Bounds().Dy())
	}
}

func TestPreviewer_RejectsOversizedMedia(t *testing.T) {
	srv := servePNG(t, 64, 64)
	p, err := NewPreviewer(context.Background(), Options{
		LocalDir: t.TempDir(),
		MaxBytes: 10, // smaller than any real PNG
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new previewer: %v", err)
	}
	if _, err := p.Generate(context.Background(), "post-1", srv.URL); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestPreviewer_RejectsNonImageAndHTTPErrors(t *testing.T) {
	notImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("definitely not an image"))
	}))
	defer notImage.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer missing.Close()

	p, err := NewPreviewer(context.Background(), Options{LocalDir: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("new previewer: %v", err)
	}
	if _, err := p.Generate(context.Background(), "post-1", notImage.URL); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := p.Generate(context.Background(), "post-2", missing.URL); err == nil {
		t.Fatalf("expected download error")
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"post-previews/p.jpg":   "post-previews/p.jpg",
		"/post-previews/p.jpg":  "post-previews/p.jpg",
		"./post-previews/p.jpg": "post-previews/p.jpg",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
