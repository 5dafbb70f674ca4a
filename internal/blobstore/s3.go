package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API the store needs.
type S3Client interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
}

// S3 stores blobs in a bucket using keys "<prefix>/owner_<id>/<name>".
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 builds an S3 client from cfg, falling back to the default AWS
// credential chain when no static keys are configured.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(ownerID int64, name string) string {
	return path.Join(s.prefix, Namespace(ownerID), name)
}

// Put uploads r with If-None-Match so an existing key is never replaced. The
// SDK needs a rewindable body to sign and checksum the payload, so input that
// cannot seek is spooled to a temporary file first.
func (s *S3) Put(ctx context.Context, ownerID int64, name string, r io.Reader, _ int64) (int64, error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}
	body, ok := r.(io.ReadSeeker)
	if !ok {
		spool, err := spoolTemp(r)
		if err != nil {
			return 0, err
		}
		defer func() {
			spool.Close()
			_ = os.Remove(spool.Name())
		}()
		body = spool
	}
	length, err := remaining(body)
	if err != nil {
		return 0, fmt.Errorf("%w: measure body: %v", ErrWrite, err)
	}

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(ownerID, name)),
		Body:          body,
		ContentLength: aws.Int64(length),
		IfNoneMatch:   aws.String("*"),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		if code := apiCode(err); code == "PreconditionFailed" || code == "ConditionalRequestConflict" {
			return 0, ErrExists
		}
		return 0, fmt.Errorf("%w: s3 put: %v", ErrWrite, err)
	}
	return length, nil
}

// remaining reports the bytes between the current offset and the end of rs,
// leaving the offset where it was.
func remaining(rs io.Seeker) (int64, error) {
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}

func spoolTemp(r io.Reader) (*os.File, error) {
	f, err := os.CreateTemp("", "mycloud-s3-*")
	if err != nil {
		return nil, fmt.Errorf("%w: spool body: %v", ErrWrite, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: spool body: %v", ErrWrite, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: spool body: %v", ErrWrite, err)
	}
	return f, nil
}

func (s *S3) Get(ctx context.Context, ownerID int64, name string) (io.ReadCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ownerID, name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) || apiCode(err) == "NotFound" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: s3 get: %w", err)
	}
	return out.Body, nil
}

func (s *S3) Delete(ctx context.Context, ownerID int64, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ownerID, name)),
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3 delete: %w", err)
	}
	return nil
}

func (s *S3) DeleteNamespace(ctx context.Context, ownerID int64) error {
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(path.Join(s.prefix, Namespace(ownerID)) + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("blobstore: s3 list namespace: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("blobstore: s3 delete namespace: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("blobstore: s3 delete namespace: %s: %s",
				aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func apiCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

var _ Store = (*S3)(nil)
