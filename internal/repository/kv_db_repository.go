package repository

import (
	"context"
	"errors"
	"time"

	"stem_progress_backend/internal/model"
	"stem_progress_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DBKVRepository struct {
	DB     *gorm.DB
	Prefix string
}

func NewDBKVRepository(db *gorm.DB, prefix string) *DBKVRepository {
	return &DBKVRepository{DB: db, Prefix: prefix}
}

func (r *DBKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var entry model.KVEntry
	err := r.DB.WithContext(ctx).Where("kv_key = ?", r.Prefix+key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (r *DBKVRepository) Set(ctx context.Context, key string, value []byte) error {
	entry := model.KVEntry{
		Key:       r.Prefix + key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&entry).Error
}

func (r *DBKVRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.Prefix + k
	}
	return r.DB.WithContext(ctx).Where("kv_key IN ?", full).Delete(&model.KVEntry{}).Error
}

func (r *DBKVRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
