package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxReceiptImageBytes caps uploaded receipt photos
const MaxReceiptImageBytes = 10 * 1024 * 1024

// receiptImageTypes maps accepted content types to the stored extension
var receiptImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ReceiptImageStorage keeps receipt photos in an S3-compatible bucket
type ReceiptImageStorage struct {
	client     *minio.Client
	bucketName string
	region     string
}

// StoredObject describes an uploaded receipt image
type StoredObject struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// NewReceiptImageStorage creates an S3 client for the receipt bucket
func NewReceiptImageStorage(endpoint, accessKey, secretKey, bucketName, region string, useSSL bool) (*ReceiptImageStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &ReceiptImageStorage{
		client:     client,
		bucketName: bucketName,
		region:     region,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ReceiptImageStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Put uploads a receipt image under key
func (s *ReceiptImageStorage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*StoredObject, error) {
	info, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload receipt image: %w", err)
	}

	return &StoredObject{
		Bucket:      info.Bucket,
		Key:         info.Key,
		Size:        info.Size,
		ContentType: contentType,
		ETag:        info.ETag,
	}, nil
}

// PresignedURL returns a time-limited download link for key
func (s *ReceiptImageStorage) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return u.String(), nil
}

// Remove deletes the object at key
func (s *ReceiptImageStorage) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// Bucket returns the bucket name
func (s *ReceiptImageStorage) Bucket() string {
	return s.bucketName
}

// IsReceiptImageType reports whether contentType is an accepted image format
func IsReceiptImageType(contentType string) bool {
	_, ok := receiptImageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ok
}

// ReceiptImageKey builds receipts/<user>/<yyyy>/<mm>/<uuid><ext>. The
// extension comes from the filename when present, else from the content type.
func ReceiptImageKey(userID int, filename, contentType string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || ext == "." {
		ext = receiptImageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	}
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("receipts/%d/%s/%s%s", userID, now.UTC().Format("2006/01"), uuid.NewString(), ext)
}
