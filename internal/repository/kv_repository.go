package repository

import (
	"context"
	"sync"

	"stem_progress_backend/internal/util"
)

// KVRepository 持久化键值存储，值为 JSON 字节
type KVRepository interface {
	// Get 不存在时返回 util.ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete 删除不存在的 key 不报错
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// MemoryKVRepository 进程内实现，用于 memory 后端与测试
type MemoryKVRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKVRepository() *MemoryKVRepository {
	return &MemoryKVRepository{data: make(map[string][]byte)}
}

func (r *MemoryKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		return nil, util.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r *MemoryKVRepository) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = append([]byte(nil), value...)
	return nil
}

func (r *MemoryKVRepository) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data, k)
	}
	return nil
}

func (r *MemoryKVRepository) Ping(ctx context.Context) error {
	return nil
}

// Len 当前保存的 key 数量
func (r *MemoryKVRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
