package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"contract-diff/internal/config"
	"contract-diff/internal/logging"
)

var (
	_ Backend = (*Local)(nil)
	_ Backend = (*Minio)(nil)
)

// Minio stores files as objects in an S3 compatible bucket using the same
// date-partitioned keys as the local backend.
type Minio struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
	now      func() time.Time
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme: host:port, insecure by default for a local MinIO.
	return raw, false, nil
}

func NewMinio(cfg config.S3Config, maxBytes int64) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	return &Minio{
		client:   client,
		bucket:   cfg.Bucket,
		maxBytes: maxBytes,
		now:      time.Now,
	}, nil
}

func (m *Minio) Name() string { return "minio" }

// Init makes sure the bucket exists, creating it on first start.
func (m *Minio) Init(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.bucket, err)
		}
		logging.Info("bucket created", logging.Fields{"bucket": m.bucket})
	}
	return nil
}

func (m *Minio) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("minio bucket does not exist: %s", m.bucket)
	}
	return nil
}

func (m *Minio) Store(ctx context.Context, originalName string, r io.Reader) (StoredFile, error) {
	key, err := objectKey(originalName, m.now())
	if err != nil {
		return StoredFile{}, err
	}

	ur := newUploadReader(r, m.maxBytes)
	info, err := m.client.PutObject(ctx, m.bucket, key, ur, -1, minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if ur.exceeded {
		return StoredFile{}, ErrTooLarge
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("put object %s: %w", key, err)
	}
	if info.Size == 0 {
		if rmErr := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); rmErr != nil {
			logging.Warn("remove empty object failed", logging.Fields{"key": key, "err": rmErr.Error()})
		}
		return StoredFile{}, ErrEmptyFile
	}

	logging.Info("object stored", logging.Fields{"bucket": m.bucket, "path": key, "size": info.Size})
	return StoredFile{
		Path:     key,
		Name:     SanitizeFilename(originalName),
		Size:     info.Size,
		Checksum: ur.checksum(),
	}, nil
}

func (m *Minio) Open(ctx context.Context, relPath string) (*Object, error) {
	key, err := CleanRelPath(relPath)
	if err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	// Stat forces the request so a missing key surfaces here rather than mid-stream.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return &Object{Body: obj, Name: path.Base(key), Size: st.Size}, nil
}
