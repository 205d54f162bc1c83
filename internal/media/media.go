// Package media stores server icons and banners in a blob bucket.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets (tests)
	"gocloud.dev/gcerrors"
)

// Store wraps a blob bucket.
type Store struct {
	bk *blob.Bucket
}

// Open opens the bucket at url, e.g. "file:///var/lib/chat/media" or "mem://".
func Open(ctx context.Context, url string) (*Store, error) {
	bk, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open media bucket: %w", err)
	}
	return &Store{bk: bk}, nil
}

// Put writes r under key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w, err := s.bk.NewWriter(ctx, sanitizeKey(key), &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bk.Exists(ctx, sanitizeKey(key))
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bk.Delete(ctx, sanitizeKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bk.Close()
}

func sanitizeKey(key string) string {
	return strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
}
