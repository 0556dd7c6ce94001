// Package storage implements the workspace object-store adapter (spec §4.1,
// §6, §8): every session's workspace lives under a bucket prefix, uploaded
// and downloaded through the external API's file routes and wiped on
// termination.
//
// Grounded on the teacher's plugins/streamspace-storage-s3 plugin, which
// wrapped aws-sdk-go's S3 client for an S3-compatible backend (AWS S3 or a
// MinIO-style endpoint via custom Endpoint + path-style addressing). This
// adapter keeps that client construction and upload/download/delete shape,
// adding the prefix listing and delete, and presigned-URL generation
// spec §6 needs for large-file downloads that the plugin never exposed.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/kweaver-ai/sandboxctl/internal/logger"
)

// Config holds S3-compatible object-store connection settings.
type Config struct {
	Endpoint        string // empty uses AWS's default regional endpoint
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PathStyle       bool // required for MinIO-style endpoints
}

// PresignedURLTTL is how long a presigned download URL stays valid
// (spec §6: large files redirect to a presigned URL instead of streaming
// through the control plane).
const PresignedURLTTL = time.Hour

// DirectDownloadLimit is the largest file the external API serves as raw
// bytes before falling back to a 307 redirect to a presigned URL.
const DirectDownloadLimit = 10 * 1024 * 1024

// MultipartUploadLimit is the largest file the external API accepts via a
// single multipart form upload (spec §6).
const MultipartUploadLimit = 100 * 1024 * 1024

// S3Store implements lifecycle.ObjectStore plus the upload/download surface
// the external API's file routes need.
type S3Store struct {
	client *s3.S3
	bucket string
}

// NewS3Store connects to an S3-compatible bucket, verifying access with a
// HeadBucket the way the teacher's plugin does (logged as a warning rather
// than a hard failure, since the bucket may simply not exist yet in a
// fresh deployment).
func NewS3Store(cfg Config) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(cfg.PathStyle)
	}
	if !cfg.UseSSL {
		awsCfg.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := &S3Store{client: s3.New(sess), bucket: cfg.Bucket}

	if _, err := store.client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		logger.GetLogger().Warn().Err(err).Str("bucket", cfg.Bucket).Msg("failed to access object store bucket (will retry later)")
	}

	return store, nil
}

// Upload stores data at path within the bucket.
func (s *S3Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        aws.ReadSeekCloser(bytes.NewReader(data)),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

// Download retrieves the object at path, for the external API's
// direct-bytes response path (files up to DirectDownloadLimit).
func (s *S3Store) Download(ctx context.Context, path string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// PresignedDownloadURL returns a time-limited URL for path, used when a
// file exceeds DirectDownloadLimit (spec §6).
func (s *S3Store) PresignedDownloadURL(ctx context.Context, path string) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	url, err := req.Presign(PresignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", path, err)
	}
	return url, nil
}

// Delete removes a single object.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// ListFiles lists every object under prefix, for the external API's
// workspace listing route.
func (s *S3Store) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	result, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	files := make([]string, len(result.Contents))
	for i, obj := range result.Contents {
		files[i] = aws.StringValue(obj.Key)
	}
	return files, nil
}

// DeletePrefix removes every object under prefix, satisfying
// lifecycle.ObjectStore: called on session termination to wipe the
// session's entire workspace (spec §4.1).
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimPrefix(prefix, fmt.Sprintf("s3://%s/", s.bucket))

	var continuationToken *string
	for {
		page, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			break
		}

		objects := make([]*s3.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = &s3.ObjectIdentifier{Key: obj.Key}
		}
		if _, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects},
		}); err != nil {
			return fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		continuationToken = page.NextContinuationToken
	}
	return nil
}
