package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openvigil/vigil/detection-server/internal/logger"
)

// Store uploads annotated detection frames to an S3-compatible bucket so
// alerts keep visual evidence after the live stream is gone.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		logger.Info("Snapshot", "Created bucket %s", bucket)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Save uploads one JPEG under {session}/{class}/{unix-nanos}.jpg and
// returns the object path.
func (s *Store) Save(ctx context.Context, sessionID, class string, jpegData []byte, at time.Time) (string, error) {
	object := fmt.Sprintf("%s/%s/%d.jpg", sessionID, class, at.UnixNano())
	_, err := s.client.PutObject(ctx, s.bucket, object,
		bytes.NewReader(jpegData), int64(len(jpegData)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", object, err)
	}
	return object, nil
}
