package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"chemplumb/internal/blob"
)

// Store saves and loads the single current archive.
type Store interface {
	Save(ctx context.Context, a *Archive) error
	Load(ctx context.Context) (*Archive, error)
	Close() error
}

// BlobStore keeps the encoded archive under one key of a blob store.
type BlobStore struct {
	blobs blob.Store
	key   string
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore returns a store writing to key; an empty key means DefaultKey.
func NewBlobStore(blobs blob.Store, key string) *BlobStore {
	if key == "" {
		key = DefaultKey
	}
	return &BlobStore{blobs: blobs, key: key}
}

// Key returns the blob key.
func (s *BlobStore) Key() string { return s.key }

// Save validates and replaces the stored archive. Blob stores are
// create-only, so the previous object is deleted first.
func (s *BlobStore) Save(ctx context.Context, a *Archive) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return err
	}
	if _, err := s.blobs.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("replace %s: %w", s.key, err)
	}
	opts := blob.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			"run_id": a.Metadata.RunID.String(),
			"schema": strconv.Itoa(SchemaVersion),
		},
	}
	if _, err := s.blobs.Put(ctx, s.key, bytes.NewReader(buf.Bytes()), opts); err != nil {
		return fmt.Errorf("store %s: %w", s.key, err)
	}
	return nil
}

// Load decodes the stored archive.
func (s *BlobStore) Load(ctx context.Context) (*Archive, error) {
	_, rc, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", s.key, ErrNotFound)
		}
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return Decode(rc)
}

// Close is a no-op; the blob store has no handle to release.
func (s *BlobStore) Close() error { return nil }
