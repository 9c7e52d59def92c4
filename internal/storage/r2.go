package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appcfg "github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// R2Store keeps off-site copies of local exports in a Cloudflare R2 (S3
// compatible) bucket under prefix, laid out as <prefix><database>/<file>.
type R2Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewR2Store(ctx context.Context, cfg *appcfg.Config) (*R2Store, error) {
	// Use the standard AWS configuration with custom endpoint
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.R2AccessKeyID,
			cfg.R2SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with R2 endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID))
		o.UsePathStyle = true
	})

	return newR2Store(client, cfg.R2BucketName, cfg.R2Prefix), nil
}

func newR2Store(client *s3.Client, bucket, prefix string) *R2Store {
	return &R2Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *R2Store) Name() string {
	return "r2"
}

// Upload stores body under prefix+key.
func (s *R2Store) Upload(ctx context.Context, key string, body io.Reader) error {
	fullKey := s.prefix + key

	// Use the upload manager for better retry handling and large file support
	uploader := manager.NewUploader(s.client)

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   body,
	})
	if err != nil {
		return errors.NewStorageError("upload", s.bucket, fullKey, err)
	}

	return nil
}

// Delete removes an object by the full key reported by ListBackups.
func (s *R2Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.NewStorageError("delete", s.bucket, key, err)
	}

	return nil
}

func (s *R2Store) ListBackups(ctx context.Context) ([]BackupObject, error) {
	var backups []BackupObject

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError("list", s.bucket, s.prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			group, ok := groupOf(strings.TrimPrefix(key, s.prefix))
			if !ok {
				continue
			}
			backups = append(backups, BackupObject{
				Key:          key,
				Group:        group,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sortNewestFirst(backups)
	return backups, nil
}

func (s *R2Store) Bucket() string {
	return s.bucket
}

func (s *R2Store) Prefix() string {
	return s.prefix
}
