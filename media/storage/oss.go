package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
)

// OSSStore maps every container to an Aliyun OSS bucket named
// BucketPrefix + container.
type OSSStore struct {
	client       *oss.Client
	bucketPrefix string
}

// NewOSSStore creates the client. Endpoint: oss-cn-hangzhou.aliyuncs.com
func NewOSSStore(cfg config.OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeConfig, "create OSS client")
	}
	return &OSSStore{client: client, bucketPrefix: cfg.BucketPrefix}, nil
}

func (s *OSSStore) Name() string { return "oss" }

func (s *OSSStore) bucketName(container string) string {
	return s.bucketPrefix + container
}

func (s *OSSStore) EnsureContainer(ctx context.Context, container string) error {
	if err := validateKey(container, "key"); err != nil {
		return err
	}
	name := s.bucketName(container)

	exists, err := s.client.IsBucketExist(name)
	if err != nil {
		return apperrors.NewContainer(container, err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateBucket(name); err != nil && !ossCode(err, "BucketAlreadyExists") {
		return apperrors.NewContainer(container, err)
	}
	return nil
}

func (s *OSSStore) Put(ctx context.Context, container, key string, r io.Reader, size int64, contentType string) error {
	if err := validateKey(container, key); err != nil {
		return err
	}
	bucket, err := s.client.Bucket(s.bucketName(container))
	if err != nil {
		return apperrors.NewStorageWrite(container, key, err)
	}
	opts := []oss.Option{oss.WithContext(ctx), oss.ContentType(contentType)}
	if size >= 0 {
		opts = append(opts, oss.ContentLength(size))
	}
	if err := bucket.PutObject(strings.TrimPrefix(key, "/"), r, opts...); err != nil {
		return apperrors.NewStorageWrite(container, key, err)
	}
	return nil
}

func (s *OSSStore) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	bucket, err := s.client.Bucket(s.bucketName(container))
	if err != nil {
		return nil, apperrors.NewStorageRead(container, key, err)
	}
	body, err := bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if ossCode(err, "NoSuchKey") || ossCode(err, "NoSuchBucket") {
			return nil, apperrors.NewNotFound("object", container+"/"+key)
		}
		return nil, apperrors.NewStorageRead(container, key, err)
	}
	return body, nil
}

func (s *OSSStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	bucket, err := s.client.Bucket(s.bucketName(container))
	if err != nil {
		return nil, apperrors.NewStorageRead(container, prefix, err)
	}

	var out []ObjectInfo
	token := ""
	for {
		opts := []oss.Option{oss.WithContext(ctx), oss.Prefix(prefix), oss.MaxKeys(1000)}
		if token != "" {
			opts = append(opts, oss.ContinuationToken(token))
		}
		res, err := bucket.ListObjectsV2(opts...)
		if err != nil {
			if ossCode(err, "NoSuchBucket") {
				return nil, nil
			}
			return nil, apperrors.NewStorageRead(container, prefix, err)
		}
		for _, obj := range res.Objects {
			out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
		}
		if !res.IsTruncated || res.NextContinuationToken == "" {
			break
		}
		token = res.NextContinuationToken
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ossCode reports whether err is an OSS service error with the given code.
// A 404 with no code is treated as NoSuchKey.
func ossCode(err error, code string) bool {
	var svcErr oss.ServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	if svcErr.Code == code {
		return true
	}
	return code == "NoSuchKey" && svcErr.Code == "" && svcErr.StatusCode == http.StatusNotFound
}

var _ Store = (*OSSStore)(nil)
