package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"Go_Pic/internal/storage"
	"Go_Pic/utils"
)

// MemoryStore is an in-memory storage.Store.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	PutErr  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *MemoryStore) PutObject(ctx context.Context, object string, reader io.Reader, size int64, opts storage.PutOptions) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[object] = data
	m.types[object] = opts.ContentType
	return nil
}

func (m *MemoryStore) GetObject(ctx context.Context, object string) (io.ReadCloser, storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[object]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	info := storage.ObjectInfo{ObjectName: object, Size: int64(len(data)), ContentType: m.types[object]}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (m *MemoryStore) StatObject(ctx context.Context, object string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[object]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{ObjectName: object, Size: int64(len(data)), ContentType: m.types[object]}, nil
}

func (m *MemoryStore) RemoveObject(ctx context.Context, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, object)
	return nil
}

func (m *MemoryStore) PresignedGetObjectWithResponse(ctx context.Context, object string, expiry time.Duration, params map[string]string) (string, error) {
	return fmt.Sprintf("http://objects.test/%s?expiry=%d", object, int(expiry.Seconds())), nil
}

// Has reports whether object is stored.
func (m *MemoryStore) Has(object string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[object]
	return ok
}

// Put stores data directly.
func (m *MemoryStore) Put(object string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[object] = data
}

func (m *MemoryStore) Bytes(object string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[object]
}

// MemoryCache is an in-memory utils.Cache that ignores expiry.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: map[string][]byte{}}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return utils.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

// PlainHasher stores passwords reversibly so tests stay fast.
type PlainHasher struct{}

func (PlainHasher) Hash(pwd string) (string, error) { return "plain:" + pwd, nil }

func (PlainHasher) Verify(pwd, hash string) bool { return hash == "plain:"+pwd }
