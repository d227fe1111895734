package adapter

import "context"

// ObjectStorage stores binary objects and returns a public URL.
type ObjectStorage interface {
	Store(ctx context.Context, data []byte, ownerID, contentType string) (string, error)
	StoreThumbnail(ctx context.Context, data []byte, ownerID, contentType string) (string, error)
}
