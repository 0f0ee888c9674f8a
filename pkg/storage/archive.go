package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps long-term copies of finalized call audio. The pipeline works
// on local files; archiving is an off-ramp after compression, and deleting a
// call removes its archived copy too.
type Archive interface {
	PutAudio(ctx context.Context, callID, localPath, contentType string) error
	PresignAudio(ctx context.Context, callID string, expiry time.Duration) (string, error)
	DeleteAudio(ctx context.Context, callID string) error
}

// MinioArchive implements Archive on MinIO/S3 compatible storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket, prefix: "calls"}, nil
}

// PutAudio uploads the local audio file under the call's key.
func (m *MinioArchive) PutAudio(ctx context.Context, callID, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audio: %w", err)
	}
	_, err = m.client.PutObject(ctx, m.bucket, m.key(callID), f, info.Size(),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put audio: %w", err)
	}
	return nil
}

// PresignAudio generates a pre-signed GET URL for the archived copy.
func (m *MinioArchive) PresignAudio(ctx context.Context, callID string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, m.key(callID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign audio: %w", err)
	}
	return url.String(), nil
}

// DeleteAudio removes the archived copy.
func (m *MinioArchive) DeleteAudio(ctx context.Context, callID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(callID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete audio: %w", err)
	}
	return nil
}

func (m *MinioArchive) key(callID string) string {
	return path.Join(m.prefix, callID+".wav")
}
