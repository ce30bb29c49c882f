package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	dgerrors "github.com/datagen/datagen/internal/errors"
)

// S3Storage implements ObjectStorage for AWS S3 and S3-compatible stores.
type S3Storage struct {
	client *s3.Client
	bucket string
	config S3Config
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// MultipartConfig holds multipart upload settings.
	MultipartConfig MultipartUploadConfig
	// Retry bounds retries of every request.
	Retry RetryPolicy
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:          "us-east-1",
		MultipartConfig: DefaultMultipartConfig(),
		Retry:           DefaultRetryPolicy(),
	}
}

// NewS3Storage creates a new S3 storage client.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient creates a new S3 storage with a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	if cfg.MultipartConfig.PartSize <= 0 {
		cfg.MultipartConfig = DefaultMultipartConfig()
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &S3Storage{client: client, bucket: bucket, config: cfg}
}

// Put uploads a file, switching to a multipart upload above the part size.
func (s *S3Storage) Put(ctx context.Context, localPath, key string) (ObjectInfo, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to open upload source", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to stat upload source", err)
	}
	fileSize := stat.Size()

	var etag string
	err = retry(ctx, s.config.Retry, func() error {
		if fileSize <= s.config.MultipartConfig.PartSize {
			out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				Body:          io.NewSectionReader(file, 0, fileSize),
				ContentLength: aws.Int64(fileSize),
			})
			if err != nil {
				return err
			}
			etag = aws.ToString(out.ETag)
			return nil
		}
		var uploadErr error
		etag, uploadErr = s.doMultipartUpload(ctx, file, fileSize, key)
		return uploadErr
	})
	if err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to upload object", err).
			WithDetails(map[string]interface{}{"key": key, "size": fileSize})
	}

	return ObjectInfo{Key: key, Size: fileSize, ETag: strings.Trim(etag, `"`), LastModified: stat.ModTime()}, nil
}

func (s *S3Storage) doMultipartUpload(ctx context.Context, file *os.File, fileSize int64, key string) (string, error) {
	partSize := s.config.MultipartConfig.PartSize

	createResp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}

	uploadID := createResp.UploadId
	numParts := int(math.Ceil(float64(fileSize) / float64(partSize)))
	completedParts := make([]types.CompletedPart, 0, numParts)

	for partNum := 1; partNum <= numParts; partNum++ {
		offset := int64(partNum-1) * partSize
		size := min(partSize, fileSize-offset)

		uploadResp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(int32(partNum)),
			Body:          io.NewSectionReader(file, offset, size),
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			s.abortMultipartUpload(ctx, key, uploadID)
			return "", err
		}

		completedParts = append(completedParts, types.CompletedPart{
			ETag:       uploadResp.ETag,
			PartNumber: aws.Int32(int32(partNum)),
		})
	}

	completeResp, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		s.abortMultipartUpload(ctx, key, uploadID)
		return "", err
	}

	return aws.ToString(completeResp.ETag), nil
}

func (s *S3Storage) abortMultipartUpload(ctx context.Context, key string, uploadID *string) {
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
}

// Open starts a GetObject and returns its body. Only the request is retried;
// a failure while reading the body surfaces to the reader.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	var resp *s3.GetObjectOutput
	err := retry(ctx, s.config.Retry, func() error {
		var getErr error
		resp, getErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return s.mapNotFound(getErr)
	})
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to get object", err)
	}

	info := ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(resp.ContentLength),
		ETag: strings.Trim(aws.ToString(resp.ETag), `"`),
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return resp.Body, info, nil
}

// Stat issues a HeadObject.
func (s *S3Storage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var resp *s3.HeadObjectOutput
	err := retry(ctx, s.config.Retry, func() error {
		var headErr error
		resp, headErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return s.mapNotFound(headErr)
	})
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to stat object", err)
	}

	info := ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(resp.ContentLength),
		ETag: strings.Trim(aws.ToString(resp.ETag), `"`),
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return info, nil
}

// Delete removes an object from S3.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	err := retry(ctx, s.config.Retry, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to delete object", err)
	}
	return nil
}

// List returns all objects under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to list objects", err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (s *S3Storage) mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ErrObjectNotFound
	}
	return err
}
