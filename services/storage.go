package services

import (
	"context"
	"errors"
	"sync"

	"fileconvert/apperrors"
	"fileconvert/models"
)

// StorageGateway owns blob lifetime for originals and converted artifacts.
type StorageGateway interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, bucket, path string) error
}

var ErrObjectNotFound = errors.New("object not found")

func storageErr(op, bucket, path string, err error) error {
	return &apperrors.StorageError{Op: op, Bucket: bucket, Path: path, Err: err}
}

// MemoryStorage keeps blobs in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Download(_ context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[models.BlobRef{Bucket: bucket, Path: path}.String()]
	if !ok {
		return nil, storageErr("download", bucket, path, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) Upload(_ context.Context, bucket, path string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := models.BlobRef{Bucket: bucket, Path: path}
	m.objects[ref.String()] = append([]byte(nil), data...)
	m.uploads++
	return ref.String(), nil
}

func (m *MemoryStorage) Delete(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.BlobRef{Bucket: bucket, Path: path}.String()
	if _, ok := m.objects[key]; !ok {
		return storageErr("delete", bucket, path, ErrObjectNotFound)
	}
	delete(m.objects, key)
	return nil
}

// Uploads counts every Upload call.
func (m *MemoryStorage) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Has reports whether a blob exists.
func (m *MemoryStorage) Has(bucket, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[models.BlobRef{Bucket: bucket, Path: path}.String()]
	return ok
}
