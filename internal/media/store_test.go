package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// fakeBlobStore is an in-memory BlobStore recording uploads.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	// failUploads makes the next N Upload calls fail with a transient error.
	failUploads int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUploads > 0 {
		f.failUploads--
		return errors.New("transient store error")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	f.uploads++
	return nil
}

func (f *fakeBlobStore) URI(key string) string {
	return "gs://test-bucket/" + key
}

func writeMedia(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

// jpegBytes is a minimal JPEG header so content sniffing sees a real type.
var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}, bytes.Repeat([]byte{0x01}, 32)...)

func TestPut_UploadsNewMedia(t *testing.T) {
	blobs := newFakeBlobStore()
	store := NewStore(blobs, slog.Default())
	path := writeMedia(t, "IMG-20231201-WA0001.jpg", jpegBytes)

	ref, err := store.Put(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if blobs.uploads != 1 {
		t.Errorf("expected 1 upload, got %d", blobs.uploads)
	}
	if ref.OriginalFilename != "IMG-20231201-WA0001.jpg" {
		t.Errorf("original filename = %q", ref.OriginalFilename)
	}
	if ref.MediaType != "image/jpeg" {
		t.Errorf("media type = %q, want image/jpeg (sniffed, not from filename)", ref.MediaType)
	}
	wantURI := "gs://test-bucket/" + ref.ContentHash + ".jpg"
	if ref.StorageURI != wantURI {
		t.Errorf("storage uri = %q, want %q", ref.StorageURI, wantURI)
	}
}

func TestPut_SkipsUploadWhenContentExists(t *testing.T) {
	blobs := newFakeBlobStore()
	store := NewStore(blobs, slog.Default())

	// Same bytes under two different names, possibly from different archives.
	p1 := writeMedia(t, "IMG-20231201-WA0001.jpg", jpegBytes)
	p2 := writeMedia(t, "IMG-20240515-WA0099.jpg", jpegBytes)

	ref1, err := store.Put(context.Background(), p1)
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	ref2, err := store.Put(context.Background(), p2)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}

	if blobs.uploads != 1 {
		t.Errorf("identical bytes must upload exactly once, got %d uploads", blobs.uploads)
	}
	if ref1.StorageURI != ref2.StorageURI {
		t.Errorf("identical bytes must share a storage uri: %q vs %q", ref1.StorageURI, ref2.StorageURI)
	}
	if ref1.ContentHash != ref2.ContentHash {
		t.Errorf("identical bytes must share a content hash")
	}
	if ref1.OriginalFilename == ref2.OriginalFilename {
		t.Error("refs should keep their own original filenames")
	}
}

func TestPut_RetriesTransientFailure(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.failUploads = 2 // fail twice, succeed on the third attempt
	store := NewStore(blobs, slog.Default())
	path := writeMedia(t, "VID-20231201-WA0002.mp4", []byte("not really a video"))

	if _, err := store.Put(context.Background(), path); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("expected object stored after retries")
	}
}

func TestPut_ExhaustedRetriesSurfaceUploadFailed(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.failUploads = 100
	store := NewStore(blobs, slog.Default())
	path := writeMedia(t, "PTT-20231201-WA0003.opus", []byte("audio"))

	_, err := store.Put(context.Background(), path)
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestPut_MissingFile(t *testing.T) {
	store := NewStore(newFakeBlobStore(), slog.Default())

	_, err := store.Put(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if errors.Is(err, ErrUploadFailed) {
		t.Errorf("missing file is not an upload failure: %v", err)
	}
}

func TestPut_ConcurrentIdenticalContent(t *testing.T) {
	blobs := newFakeBlobStore()
	store := NewStore(blobs, slog.Default())

	var wg sync.WaitGroup
	refs := make([]Ref, 4)
	for i := 0; i < 4; i++ {
		path := writeMedia(t, fmt.Sprintf("IMG-2023120%d-WA0001.jpg", i), jpegBytes)
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			ref, err := store.Put(context.Background(), path)
			if err != nil {
				t.Errorf("put %d: %v", i, err)
				return
			}
			refs[i] = ref
		}(i, path)
	}
	wg.Wait()

	for i := 1; i < 4; i++ {
		if refs[i].StorageURI != refs[0].StorageURI {
			t.Errorf("ref %d uri %q differs from %q", i, refs[i].StorageURI, refs[0].StorageURI)
		}
	}
	if blobs.uploads != 1 {
		t.Errorf("identical bytes uploaded concurrently must hit the store once, got %d uploads", blobs.uploads)
	}

	// Key locks are held only while a Put is in flight.
	store.mu.Lock()
	held := len(store.inKey)
	store.mu.Unlock()
	if held != 0 {
		t.Errorf("expected key-lock map drained after puts, %d entries remain", held)
	}
}

func TestPut_ReleasesKeyLocks(t *testing.T) {
	blobs := newFakeBlobStore()
	store := NewStore(blobs, slog.Default())

	for i := 0; i < 3; i++ {
		path := writeMedia(t, fmt.Sprintf("IMG-2024010%d-WA0001.jpg", i+1), append(jpegBytes, byte(i)))
		if _, err := store.Put(context.Background(), path); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inKey) != 0 {
		t.Errorf("key-lock map must not retain completed keys, has %d", len(store.inKey))
	}
}
