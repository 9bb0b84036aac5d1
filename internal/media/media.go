// Package media classifies and stores uploaded attachments.
//
// Uploads are sniffed from their leading bytes, mapped to a domain.MediaKind,
// and written under a generated storage locator of the form
// "<yyyymmddhhmmss>_<uuid><ext>". Messages carry only the locator; bytes live
// in a Store (local disk or an S3-compatible bucket).
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// SniffLen is the number of leading bytes inspected by Classify.
const SniffLen = 512

var (
	// ErrUnsupported is returned for files whose type or extension is not allowed.
	ErrUnsupported = errors.New("media: unsupported file type")
	// ErrNotFound is returned by Store.Locate for unknown locators.
	ErrNotFound = errors.New("media: not found")
	// ErrInvalidLocator is returned for locators that could escape the store.
	ErrInvalidLocator = errors.New("media: invalid locator")
)

// allowedExt lists the accepted file extensions and the kind each implies.
var allowedExt = map[string]domain.MediaKind{
	".png":  domain.MediaImage,
	".jpg":  domain.MediaImage,
	".jpeg": domain.MediaImage,
	".gif":  domain.MediaImage,
	".mp4":  domain.MediaVideo,
	".mp3":  domain.MediaAudio,
	".ogg":  domain.MediaAudio,
}

// Detected is the outcome of sniffing an upload.
type Detected struct {
	Kind        domain.MediaKind
	ContentType string
	Ext         string
}

// Classify inspects head (the first bytes of the file) and the client-supplied
// filename. Both the sniffed type and the filename extension must be on the
// allow-list, and they must agree on the kind.
func Classify(head []byte, filename string) (Detected, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := allowedExt[ext]
	if !ok {
		return Detected{}, fmt.Errorf("%w: extension %q", ErrUnsupported, ext)
	}

	mt := mimetype.Detect(head)
	detExt := mt.Extension()
	switch detExt {
	case ".jpeg":
		detExt = ".jpg"
	case ".oga", ".opus":
		detExt = ".ogg"
	}
	got, ok := allowedExt[detExt]
	if !ok {
		return Detected{}, fmt.Errorf("%w: content %s", ErrUnsupported, mt.String())
	}
	if got != want {
		return Detected{}, fmt.Errorf("%w: %s content in %s file", ErrUnsupported, mt.String(), ext)
	}
	return Detected{Kind: got, ContentType: mt.String(), Ext: detExt}, nil
}

// NewLocator returns a fresh, unique storage locator with the given extension.
func NewLocator(now time.Time, ext string) string {
	return fmt.Sprintf("%s_%s%s", now.UTC().Format("20060102150405"), uuid.NewString(), ext)
}

// ValidLocator reports whether loc is a single, non-hidden path element.
func ValidLocator(loc string) bool {
	if loc == "" || len(loc) > 512 || strings.HasPrefix(loc, ".") {
		return false
	}
	return !strings.ContainsAny(loc, `/\`) && !strings.Contains(loc, "..")
}

// Location tells the HTTP layer how to serve a stored object: either a local
// file Path or a time-limited URL to redirect to.
type Location struct {
	Path string
	URL  string
}

// Store persists media bytes under a locator.
type Store interface {
	Put(ctx context.Context, locator, contentType string, body io.Reader, size int64) error
	Locate(ctx context.Context, locator string) (Location, error)
}
