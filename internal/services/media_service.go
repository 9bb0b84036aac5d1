// Package services – MediaService
//
// MediaService accepts uploads, checks size and type, and writes them to the
// configured media.Store under a fresh storage locator. The returned
// descriptor is what clients attach to a message.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/media"
)

// MediaService stores and resolves uploaded attachments.
type MediaService struct {
	Store    media.Store
	MaxBytes int64

	now func() time.Time
}

// NewMediaService constructs a MediaService.
func NewMediaService(store media.Store, maxBytes int64) *MediaService {
	return &MediaService{Store: store, MaxBytes: maxBytes, now: time.Now}
}

// Upload stores body (declared size bytes, or -1 if unknown) under a new
// locator. filename is only used for its extension.
func (s *MediaService) Upload(ctx context.Context, filename string, body io.Reader, size int64) (*domain.MediaDescriptor, error) {
	tr := otel.Tracer("services/MediaService")
	ctx, span := tr.Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("file.name", filename),
			attribute.Int64("file.size", size),
		),
	)
	defer span.End()

	if s.MaxBytes > 0 && size > s.MaxBytes {
		return nil, ErrMediaTooLarge
	}

	head := make([]byte, media.SniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrUnsupportedMedia
	}

	det, err := media.Classify(head, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	loc := media.NewLocator(now(), det.Ext)
	span.SetAttributes(attribute.String("media.locator", loc), attribute.String("media.kind", string(det.Kind)))

	var r io.Reader = io.MultiReader(bytes.NewReader(head), body)
	if s.MaxBytes > 0 {
		r = &capReader{r: r, left: s.MaxBytes}
	}
	if err := s.Store.Put(ctx, loc, det.ContentType, r, size); err != nil {
		if errors.Is(err, ErrMediaTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &domain.MediaDescriptor{Kind: det.Kind, StorageLocator: loc}, nil
}

// Locate resolves a storage locator for serving.
func (s *MediaService) Locate(ctx context.Context, locator string) (media.Location, error) {
	loc, err := s.Store.Locate(ctx, locator)
	if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrInvalidLocator) {
		return media.Location{}, ErrMediaNotFound
	}
	if err != nil {
		return media.Location{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return loc, nil
}

// capReader fails with ErrMediaTooLarge once more than left bytes were read.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrMediaTooLarge
	}
	return n, err
}
