package blob

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	meta    map[string]string
	modTime time.Time
}

// MemoryStore is an in-process Store used by tests and the "memory" backend.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// SetClock overrides the modification-time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return slices.Clone(obj.data), nil
}

func (s *MemoryStore) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return obj.info(path), nil
}

func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = memObject{
		data:    slices.Clone(data),
		meta:    cloneMeta(metadata),
		modTime: s.now(),
	}
	return nil
}

func (s *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, ErrNotFound)
	}
	s.objects[dst] = memObject{
		data:    slices.Clone(obj.data),
		meta:    cloneMeta(obj.meta),
		modTime: s.now(),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ObjectInfo
	for p, obj := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, obj.info(p))
		}
	}
	slices.SortFunc(out, func(a, b ObjectInfo) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

func (o memObject) info(path string) ObjectInfo {
	return ObjectInfo{
		Path:     path,
		Size:     int64(len(o.data)),
		ModTime:  o.modTime,
		Metadata: cloneMeta(o.meta),
	}
}

var _ Store = (*MemoryStore)(nil)
