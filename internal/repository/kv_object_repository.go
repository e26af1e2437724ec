package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"stem_progress_backend/internal/config"
	"stem_progress_backend/internal/util"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func objectName(prefix, key string) string {
	return prefix + key + ".json"
}

// MinioKVRepository MinIO/S3 存储，每个 key 一个对象
type MinioKVRepository struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

func NewMinioKVRepository(cfg *config.StorageConfig, prefix string) (*MinioKVRepository, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioKVRepository{Client: client, Bucket: cfg.MinioBucket, Prefix: prefix}, nil
}

func (r *MinioKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := r.Client.GetObject(ctx, r.Bucket, objectName(r.Prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, minioErr(err)
	}
	return data, nil
}

func (r *MinioKVRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.Client.PutObject(ctx, r.Bucket, objectName(r.Prefix, key), bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: util.MimeJSON,
	})
	return err
}

func (r *MinioKVRepository) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		err := r.Client.RemoveObject(ctx, r.Bucket, objectName(r.Prefix, k), minio.RemoveObjectOptions{})
		if err != nil && !errors.Is(minioErr(err), util.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

func (r *MinioKVRepository) Ping(ctx context.Context) error {
	ok, err := r.Client.BucketExists(ctx, r.Bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", r.Bucket)
	}
	return nil
}

func minioErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return util.ErrKeyNotFound
	}
	return err
}

// OSSKVRepository 阿里云OSS存储
type OSSKVRepository struct {
	Bucket *oss.Bucket
	Prefix string
}

func NewOSSKVRepository(cfg *config.StorageConfig, prefix string) (*OSSKVRepository, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSKVRepository{Bucket: bucket, Prefix: prefix}, nil
}

// OSS SDK 不支持 context，这里只在调用前检查是否已取消
func (r *OSSKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := r.Bucket.GetObject(objectName(r.Prefix, key))
	if err != nil {
		return nil, ossErr(err)
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (r *OSSKVRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Bucket.PutObject(objectName(r.Prefix, key), bytes.NewReader(value), oss.ContentType(util.MimeJSON))
}

func (r *OSSKVRepository) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Bucket.DeleteObject(objectName(r.Prefix, k)); err != nil && !errors.Is(ossErr(err), util.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

func (r *OSSKVRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := r.Bucket.Client.IsBucketExist(r.Bucket.BucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", r.Bucket.BucketName)
	}
	return nil
}

func ossErr(err error) error {
	var serr oss.ServiceError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return util.ErrKeyNotFound
	}
	return err
}
