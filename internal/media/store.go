// Package media stores attachment files content-addressed: the blob key is
// derived from the file's bytes, so identical media uploaded from any archive,
// any group, any run lands on one stored object.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/zapvault/zapvault/internal/identity"
)

// ErrUploadFailed marks a media file whose upload could not complete within
// the retry budget. Scoped to that one file; the rest of the run continues.
var ErrUploadFailed = errors.New("media upload failed after retries")

const (
	maxRetries      = 3
	initialInterval = 500 * time.Millisecond
	maxInterval     = 5 * time.Second
)

// Ref is the stable reference returned for a stored media file, identical
// whether this call uploaded the bytes or found them already stored.
type Ref struct {
	OriginalFilename string
	ContentHash      string
	StorageURI       string
	MediaType        string
}

// Store deduplicates and persists media files into a BlobStore.
type Store struct {
	blobs  BlobStore
	logger *slog.Logger

	mu    sync.Mutex
	inKey map[string]*keyLock
}

// keyLock is refcounted so the entry can be dropped once no Put holds or
// waits on it; the map only ever holds keys with in-flight Puts.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore(blobs BlobStore, logger *slog.Logger) *Store {
	return &Store{blobs: blobs, logger: logger, inKey: make(map[string]*keyLock)}
}

// lockKey serializes concurrent Puts that resolve to the same blob key, so
// identical bytes uploaded in parallel within one process still cause at most
// one physical upload: the loser of the race sees the existence check hit.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.inKey[key]
	if !ok {
		l = &keyLock{}
		s.inKey[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.inKey, key)
		}
		s.mu.Unlock()
	}
}

// Put hashes the file at path, uploads it under its content-derived key if no
// object with that key exists yet, and returns the stable reference. The MIME
// type is detected from content, never trusted from the filename.
func (s *Store) Put(ctx context.Context, path string) (Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return Ref{}, fmt.Errorf("open media: %w", err)
	}
	hash, err := identity.ContentHash(f)
	f.Close()
	if err != nil {
		return Ref{}, fmt.Errorf("hash media: %w", err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Ref{}, fmt.Errorf("detect media type: %w", err)
	}

	name := filepath.Base(path)
	key := hash + filepath.Ext(name)
	unlock := s.lockKey(key)
	defer unlock()
	ref := Ref{
		OriginalFilename: name,
		ContentHash:      hash,
		StorageURI:       s.blobs.URI(key),
		MediaType:        mt.String(),
	}

	err = s.withRetry(ctx, func() error {
		exists, err := s.blobs.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			s.logger.Info("media already stored, skipping upload",
				"file", name,
				"content_hash", hash,
			)
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer src.Close()
		return s.blobs.Upload(ctx, key, src, mt.String())
	})
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: %v", ErrUploadFailed, name, err)
	}

	return ref, nil
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}
