package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalStorage(t *testing.T) {
	t.Run("should write the object and return its public url", func(t *testing.T) {
		// --- Arrange ---
		root := t.TempDir()
		s, err := NewLocalStorage(root, "http://cdn.test/files/")
		if err != nil {
			t.Fatal(err)
		}
		s.now = func() time.Time { return time.UnixMilli(1700000000000) }

		// --- Act ---
		url, err := s.Store(context.Background(), []byte("png"), "owner-1", "image/png")

		// --- Assert ---
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(url, "http://cdn.test/files/owner-1/1700000000000_") || !strings.HasSuffix(url, ".png") {
			t.Fatalf("unexpected url %q", url)
		}
		key := strings.TrimPrefix(url, "http://cdn.test/files/")
		b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
		if err != nil || string(b) != "png" {
			t.Fatalf("object not written: %v %q", err, b)
		}
	})

	t.Run("should prefix thumbnails", func(t *testing.T) {
		s, _ := NewLocalStorage(t.TempDir(), "http://x")
		url, err := s.StoreThumbnail(context.Background(), []byte("jpg"), "o", "image/jpeg")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(url, "/o/thumb_") || !strings.HasSuffix(url, ".jpg") {
			t.Fatalf("unexpected url %q", url)
		}
	})

	t.Run("should reject path traversal in the owner id", func(t *testing.T) {
		s, _ := NewLocalStorage(t.TempDir(), "http://x")
		if _, err := s.Store(context.Background(), []byte("a"), "../etc", "image/png"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("should reject empty objects", func(t *testing.T) {
		s, _ := NewLocalStorage(t.TempDir(), "http://x")
		if _, err := s.Store(context.Background(), nil, "o", "image/png"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":               ".jpg",
		"image/jpg":                ".jpg",
		"IMAGE/PNG":                ".png",
		"image/webp":               ".webp",
		"image/gif":                ".gif",
		"image/png; charset=utf-8": ".png",
		"application/octet-stream": ".png",
		"":                         ".png",
	}
	for in, want := range cases {
		if got := ExtensionFor(in); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}
