package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores exported files. Put returns the URI of the stored object.
type Sink interface {
	Put(ctx context.Context, key string, data io.Reader) (string, error)
}

type LocalSink struct {
	dir string
}

var _ Sink = (*LocalSink)(nil)

func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{dir: dir}
}

func (s *LocalSink) Put(_ context.Context, key string, data io.Reader) (string, error) {
	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	tmp := dst + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", tmp, err)
	}
	if _, err := io.Copy(file, data); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return "file://" + filepath.ToSlash(dst), nil
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Sink struct {
	uploader uploader
	bucket   string
}

var _ Sink = (*S3Sink)(nil)

func NewS3Sink(client *s3.Client, bucket string) *S3Sink {
	return &S3Sink{uploader: manager.NewUploader(client), bucket: bucket}
}

func (s *S3Sink) Put(ctx context.Context, key string, data io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
