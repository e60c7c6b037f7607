package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"TrackHub/errs"
	"TrackHub/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore 封装了 MinIO 客户端
type MinioStore struct {
	client *minio.Client
	region string
}

// NewMinioStore 创建一个新的 MinIO 客户端
func NewMinioStore(endpoint, accessKey, secretKey, region string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %v", err)
	}
	return &MinioStore{client: client, region: region}, nil
}

// Put 上传对象 (upsert)
func (m *MinioStore) Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := m.client.PutObject(ctx, bucket, key, data, size, opts); err != nil {
		return errs.External("minio put "+bucket+"/"+key, err)
	}
	return nil
}

// Stat 获取对象元数据
func (m *MinioStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return ObjectInfo{}, errs.External("minio stat "+bucket+"/"+key, err)
	}
	return fromMinio(info), nil
}

// GetRange 读取对象的一段字节
func (m *MinioStore) GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	switch {
	case length > 0:
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, errs.Invalid("range: %v", err)
		}
	case offset > 0:
		// end 0 with a positive start means "to the end"
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, errs.Invalid("range: %v", err)
		}
	}

	obj, err := m.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, errs.External("minio get "+bucket+"/"+key, err)
	}
	// GetObject is lazy; Stat forces the request so a missing key fails here.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, errs.External("minio get "+bucket+"/"+key, err)
	}
	return obj, nil
}

// List 列出前缀下的所有对象
func (m *MinioStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	objectCh := m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, errs.External("minio list "+bucket+"/"+prefix, object.Err)
		}
		objects = append(objects, fromMinio(object))
	}
	return objects, nil
}

// Delete 批量删除对象
func (m *MinioStore) Delete(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	for rerr := range m.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil && !isMinioNotFound(rerr.Err) {
			return errs.External(fmt.Sprintf("minio delete %s/%s", bucket, rerr.ObjectName), rerr.Err)
		}
	}
	return nil
}

// EnsureBucket 检查存储桶是否存在，不存在则创建
func (m *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return errs.External("检查存储桶失败", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return errs.External("创建存储桶失败", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", bucket))
	return nil
}

// Type returns "minio".
func (m *MinioStore) Type() string { return "minio" }

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
}

func fromMinio(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
	}
}
