package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"recording-worker/pkg/apperror"
)

const (
	objectPrefix    = "call-recordings"
	streamObject    = "stream.webm"
	manifestObject  = "manifest.json"
	metricsObject   = "metrics.json"
	presignedExpiry = 7 * 24 * time.Hour
)

// MinioStorage is a StorageGateway backed by an object bucket. The media
// plane appends audio to the stream object and drops quality sidecars next
// to it; this gateway owns the object lifecycle.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinioStorage(client *minio.Client, bucket string) *MinioStorage {
	return &MinioStorage{client: client, bucket: bucket}
}

func (s *MinioStorage) sessionKey(sessionID uuid.UUID, name string) string {
	return fmt.Sprintf("%s/%s/%s", objectPrefix, sessionID.String(), name)
}

func (s *MinioStorage) Initialize(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperror.Provider("storage", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return apperror.Provider("storage", err)
		}
	}
	return nil
}

func (s *MinioStorage) StartRecording(ctx context.Context, sessionID uuid.UUID, opts RecordingOptions) (string, error) {
	manifest, err := json.Marshal(opts)
	if err != nil {
		return "", apperror.Provider("storage", err)
	}

	key := s.sessionKey(sessionID, manifestObject)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(manifest), int64(len(manifest)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", apperror.Provider("storage", err)
	}

	streamKey := s.sessionKey(sessionID, streamObject)
	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionID.String()).
		Str("object_key", streamKey).
		Msg("recording stream opened")
	return streamKey, nil
}

func (s *MinioStorage) FinalizeRecording(ctx context.Context, sessionID uuid.UUID) (string, error) {
	streamKey := s.sessionKey(sessionID, streamObject)
	if _, err := s.client.StatObject(ctx, s.bucket, streamKey, minio.StatObjectOptions{}); err != nil {
		return "", apperror.Provider("storage", err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, streamKey, presignedExpiry, nil)
	if err != nil {
		return "", apperror.Provider("storage", err)
	}
	return url.String(), nil
}

func (s *MinioStorage) AnalyzeQuality(ctx context.Context, sessionID uuid.UUID) (QualityMetrics, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.sessionKey(sessionID, metricsObject), minio.GetObjectOptions{})
	if err != nil {
		return QualityMetrics{}, apperror.Provider("storage", err)
	}
	defer obj.Close()

	var metrics QualityMetrics
	if err := json.NewDecoder(obj).Decode(&metrics); err != nil {
		return QualityMetrics{}, apperror.Provider("storage", err)
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = time.Now().UTC()
	}
	return metrics, nil
}

// Delete removes every object under the session prefix. Missing objects are
// not an error so a retention re-sweep after a partial failure succeeds.
func (s *MinioStorage) Delete(ctx context.Context, sessionID uuid.UUID) error {
	prefix := fmt.Sprintf("%s/%s/", objectPrefix, sessionID.String())
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return apperror.Provider("storage", object.Err)
		}
		err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{})
		if err != nil {
			resp := minio.ToErrorResponse(err)
			if resp.Code == "NoSuchKey" {
				continue
			}
			return apperror.Provider("storage", err)
		}
	}
	return nil
}

func (s *MinioStorage) Health(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperror.Provider("storage", err)
	}
	if !exists {
		return apperror.Provider("storage", fmt.Errorf("bucket %s does not exist", s.bucket))
	}
	return nil
}

func (s *MinioStorage) Cleanup(ctx context.Context) error {
	return nil
}
