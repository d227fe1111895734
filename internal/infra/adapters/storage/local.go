package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/infra/metrics"
)

var _ adapter.ObjectStorage = (*LocalStorage)(nil)

// LocalStorage writes objects below a root directory and returns URLs under
// publicURL. Keys look like {owner}/{unixMillis}_{rand}{ext}.
type LocalStorage struct {
	root      string
	publicURL string
	now       func() time.Time
}

func NewLocalStorage(root, publicURL string) (*LocalStorage, error) {
	if root == "" {
		return nil, errors.New("storage: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &LocalStorage{root: root, publicURL: strings.TrimRight(publicURL, "/"), now: time.Now}, nil
}

// Root is the directory served under /files/.
func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) Store(ctx context.Context, data []byte, ownerID, contentType string) (string, error) {
	url, err := s.put(ctx, data, ownerID, contentType, "")
	metrics.IncStorageUpload("image", err == nil)
	return url, err
}

func (s *LocalStorage) StoreThumbnail(ctx context.Context, data []byte, ownerID, contentType string) (string, error) {
	url, err := s.put(ctx, data, ownerID, contentType, "thumb_")
	metrics.IncStorageUpload("thumbnail", err == nil)
	return url, err
}

func (s *LocalStorage) put(ctx context.Context, data []byte, ownerID, contentType, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errEmptyObject
	}
	key, err := objectKey(s.now(), ownerID, contentType, prefix)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, filepath.Dir(filepath.FromSlash(key)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, filepath.FromSlash(key))); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return s.publicURL + "/" + key, nil
}
