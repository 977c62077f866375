package session_test

import (
	"context"
	"sync"

	"github.com/RIDSdiseno/RidsMovilFront/internal/store"
)

// fakeKV 仅用于单元测试（内存 KV + 写入计数）
type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	writes map[string]int
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		data:   make(map[string]string),
		writes: make(map[string]int),
	}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	val, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return val, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[key] = value
	f.writes[key]++
	return nil
}

func (f *fakeKV) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.data, key)
	return nil
}

func (f *fakeKV) writeCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[key]
}

func (f *fakeKV) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}
