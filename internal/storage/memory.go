package storage

import (
	"context"
	"io"
	"sync"
)

// Object is a stored blob in a Memory store.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory is an in-process Store used for local runs and tests.
type Memory struct {
	bucket string
	region string

	mu      sync.Mutex
	objects map[string]*Object
	// DeleteErr, when set, is returned by Delete without removing anything.
	DeleteErr error
}

func NewMemory(bucket, region string) *Memory {
	return &Memory{
		bucket:  bucket,
		region:  region,
		objects: make(map[string]*Object),
	}
}

func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) URL(key string) string {
	return PublicURL(m.bucket, m.region, key)
}

func (m *Memory) Put(ctx context.Context, key string, r io.ReadSeeker, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = &Object{Data: data, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNoObject
	}
	return o.Data, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	return nil
}

// Object returns the stored object for key, if any.
func (m *Memory) Object(key string) (*Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
