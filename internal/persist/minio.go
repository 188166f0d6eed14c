package persist

import (
	"context"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/internal/resilience"
)

// MinIOConfig locates the mirror bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	BasePath  string
}

// ObjectStore is the subset of *minio.Client the mirror uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOMirror copies artifacts into an S3-compatible bucket.
type MinIOMirror struct {
	client   ObjectStore
	bucket   string
	basePath string
	retry    resilience.RetryConfig
}

// NewMinIOMirror connects to MinIO and makes sure the bucket exists.
func NewMinIOMirror(ctx context.Context, cfg MinIOConfig) (*MinIOMirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("persist: minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "persist: create minio client")
	}
	return newMinIOMirror(ctx, client, cfg.Bucket, cfg.BasePath)
}

func newMinIOMirror(ctx context.Context, client ObjectStore, bucket, basePath string) (*MinIOMirror, error) {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	m := &MinIOMirror{
		client:   client,
		bucket:   bucket,
		basePath: basePath,
		retry:    resilience.DefaultRetryConfig(),
	}
	m.retry.OnRetry = resilience.RetryLogger("minio", "put")
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIOMirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return eris.Wrapf(err, "persist: check bucket %s", m.bucket)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return eris.Wrapf(err, "persist: create bucket %s", m.bucket)
	}
	return nil
}

// Name implements Mirror.
func (m *MinIOMirror) Name() string { return "minio:" + m.bucket }

// Put implements Mirror.
func (m *MinIOMirror) Put(ctx context.Context, localPath, objectName string) error {
	key := m.basePath + path.Clean("/" + filepath.ToSlash(objectName))[1:]
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		_, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
		return err
	})
}
