package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// S3Options configures an S3Gateway. Zero values fall back to the SDK's
// defaults and the default credential chain.
type S3Options struct {
	Region          string
	Endpoint        string // S3-compatible stores; switches to path-style addressing
	AccessKeyID     string
	SecretAccessKey string
	PartSizeMB      int64
	Concurrency     int
}

// S3Gateway uploads archives to Amazon S3 (or an S3-compatible store)
// through the SDK's multipart upload manager. A multipart upload only
// materialises as an object when it is completed, and the manager aborts
// it on failure, so a failed upload leaves nothing visible.
type S3Gateway struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Gateway loads AWS configuration and builds an S3 client from opts.
func NewS3Gateway(ctx context.Context, opts S3Options) (*S3Gateway, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
			// Many S3-compatible stores reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	return NewS3GatewayFromClient(client, opts), nil
}

// NewS3GatewayFromClient wraps an existing client. Only the part size and
// concurrency fields of opts are used.
func NewS3GatewayFromClient(client *s3.Client, opts S3Options) *S3Gateway {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if opts.PartSizeMB > 0 {
			u.PartSize = opts.PartSizeMB * 1024 * 1024
		}
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
	})
	return &S3Gateway{client: client, uploader: uploader}
}

// Upload streams localPath to s3://bucket/key in the requested storage
// class with dest.Metadata attached as user metadata.
func (g *S3Gateway) Upload(ctx context.Context, localPath string, dest backup.UploadDescriptor, onProgress func(int)) (*backup.UploadResult, error) {
	uploadErr := func(err error) error {
		return &backup.UploadError{Bucket: dest.Bucket, Key: dest.Key, Err: err}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, uploadErr(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, uploadErr(err)
	}

	tier := dest.StorageTier
	if tier == "" {
		tier = backup.DefaultStorageTier
	}

	filter := backup.NewProgressFilter(backup.ProgressStep, onProgress)
	body := newProgressReader(ctx, f, info.Size(), filter)

	out, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(dest.Bucket),
		Key:          aws.String(dest.Key),
		Body:         body,
		StorageClass: types.StorageClass(tier),
		Metadata:     dest.Metadata,
	})
	if err != nil {
		return nil, uploadErr(err)
	}
	if body.BytesRead() != info.Size() {
		return nil, uploadErr(fmt.Errorf("size mismatch: expected %d bytes, sent %d", info.Size(), body.BytesRead()))
	}

	return &backup.UploadResult{
		Location:  out.Location,
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionID),
		Size:      info.Size(),
	}, nil
}

// ValidateSetup checks that bucket exists and the credentials can reach it.
func (g *S3Gateway) ValidateSetup(ctx context.Context, bucket string) error {
	if _, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	return nil
}

var _ Gateway = (*S3Gateway)(nil)
