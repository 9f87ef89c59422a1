package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/config"
)

// Sink stores named blobs and reports where each one landed. A failed Put
// must leave any previous blob of the same name intact.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// OpenSink builds the sink selected by cfg.Sink.
func OpenSink(cfg config.ArtifactConfig) (Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "", "file":
		return &FileSink{Dir: cfg.Dir}, nil
	case "s3":
		return NewS3Sink(cfg.S3)
	default:
		return nil, eris.Errorf("artifact: unsupported sink %q", cfg.Sink)
	}
}

// FileSink writes blobs into a directory using write-temp-then-rename.
type FileSink struct {
	Dir string
}

// Put writes data to Dir/name. Readers see either the old file or the new
// one, never a partial write.
func (s *FileSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: create dir %s", s.Dir)
	}
	final := filepath.Join(s.Dir, name)

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "artifact: create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", eris.Wrapf(err, "artifact: write %s", name)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", eris.Wrapf(err, "artifact: sync %s", name)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", eris.Wrapf(err, "artifact: close %s", name)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", eris.Wrapf(err, "artifact: chmod %s", name)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", eris.Wrapf(err, "artifact: rename %s", name)
	}
	return final, nil
}

// objectPutter is the slice of the minio client the sink uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Sink writes blobs to an S3-compatible bucket. Single PutObject calls
// are atomic from the reader's point of view.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Sink connects a minio client for cfg.
func NewS3Sink(cfg config.S3Config) (*S3Sink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("artifact: s3 sink requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: create s3 client")
	}
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads data under prefix/name.
func (s *S3Sink) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(s.prefix, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return "", eris.Wrapf(err, "artifact: put s3://%s/%s", s.bucket, key)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
