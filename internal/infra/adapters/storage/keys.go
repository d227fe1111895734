package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errEmptyObject = errors.New("storage: empty object")

// objectKey builds {owner}/{prefix}{unixMillis}_{rand}{ext}. Both backends
// share it so URLs look the same wherever the bytes live.
func objectKey(now time.Time, ownerID, contentType, prefix string) (string, error) {
	owner, err := safeSegment(ownerID)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s%d_%s%s", prefix, now.UnixMilli(), uuid.NewString()[:8], ExtensionFor(contentType))
	return path.Join(owner, name), nil
}

// ExtensionFor maps an image content type to a file extension. Unknown types
// are stored as .png since every generator produces images.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".png"
}

func safeSegment(s string) (string, error) {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return "", fmt.Errorf("storage: invalid owner id %q", s)
	}
	return s, nil
}
