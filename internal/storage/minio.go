// Package storage keeps the original uploads and the exported entry
// files in MinIO buckets.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config is the MinIO connection and bucket configuration.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	ExportBucket string
	UseSSL       bool
}

// Storage wraps the MinIO client for the document and export buckets.
type Storage struct {
	client       *minio.Client
	bucket       string
	exportBucket string
}

// New connects to MinIO and verifies the document bucket exists.
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	exportBucket := cfg.ExportBucket
	if exportBucket == "" {
		exportBucket = cfg.Bucket
	}

	return &Storage{client: client, bucket: cfg.Bucket, exportBucket: exportBucket}, nil
}

// UploadDocument stores the original upload with a multi-tenant path.
// Path format: {tenant}/YYYY/MM/{docID}-{filename}
func (s *Storage) UploadDocument(ctx context.Context, tenant, docID, filename string, data []byte, contentType string) (string, error) {
	objectName := documentObjectName(tenant, docID, filename, contentType, time.Now())

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.bucket, objectName), nil
}

// UploadExport stores an exported entry file in the export bucket and
// returns its location.
func (s *Storage) UploadExport(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.exportBucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}
	return fmt.Sprintf("%s/%s", s.exportBucket, objectName), nil
}

// PresignedURL generates a presigned URL for viewing a stored object.
func (s *Storage) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	objectName := strings.TrimPrefix(objectPath, s.bucket+"/")

	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// documentObjectName builds the multi-tenant object path. Filenames
// without an extension get one derived from the content type.
func documentObjectName(tenant, docID, filename, contentType string, now time.Time) string {
	if path.Ext(filename) == "" {
		filename += ContentTypeExtension(contentType)
	}
	return fmt.Sprintf("%s/%d/%02d/%s-%s", tenant, now.Year(), now.Month(), docID, filename)
}

// ContentTypeExtension maps a content type to a file extension.
func ContentTypeExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
