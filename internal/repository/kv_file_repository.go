package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"stem_progress_backend/internal/util"
)

// FileKVRepository 本地目录存储，每个 key 一个 JSON 文件
type FileKVRepository struct {
	Dir    string
	Prefix string
}

func NewFileKVRepository(dir, prefix string) (*FileKVRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileKVRepository{Dir: dir, Prefix: prefix}, nil
}

func (r *FileKVRepository) path(key string) string {
	return filepath.Join(r.Dir, url.PathEscape(r.Prefix+key)+".json")
}

func (r *FileKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(r.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, util.ErrKeyNotFound
	}
	return data, err
}

// Set 先写临时文件再 rename，避免进程中断留下半截 JSON
func (r *FileKVRepository) Set(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(r.Dir, ".kv-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, r.path(key)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (r *FileKVRepository) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := os.Remove(r.path(k)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (r *FileKVRepository) Ping(ctx context.Context) error {
	info, err := os.Stat(r.Dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", r.Dir)
	}
	return nil
}
