package store

import (
	"context"
	"strings"

	"github.com/sasha-s/go-deadlock"
)

// KV is the durable key/value backing of the point store. The production
// deployment plugs a Redis client in here; the engine itself only relies on
// this contract.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Scan returns every key/value pair whose key starts with prefix
	Scan(ctx context.Context, prefix string) (map[string]string, error)
}

// MemoryKV is the in-process KV used in development and tests
type MemoryKV struct {
	mutex deadlock.RWMutex
	data  map[string]string
}

// NewMemoryKV makes an empty in-process KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]string{}}
}

func (kv *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mutex.RLock()
	defer kv.mutex.RUnlock()
	value, ok := kv.data[key]
	return value, ok, nil
}

func (kv *MemoryKV) Set(ctx context.Context, key, value string) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	kv.data[key] = value
	return nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	delete(kv.data, key)
	return nil
}

func (kv *MemoryKV) Scan(ctx context.Context, prefix string) (map[string]string, error) {
	kv.mutex.RLock()
	defer kv.mutex.RUnlock()
	out := map[string]string{}
	for key, value := range kv.data {
		if strings.HasPrefix(key, prefix) {
			out[key] = value
		}
	}
	return out, nil
}
