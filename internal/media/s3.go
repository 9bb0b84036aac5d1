package media

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tbourn/go-dm-backend/internal/config"
)

// Seams for tests.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type getPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store keeps media in an S3-compatible bucket and serves it through
// presigned GET URLs.
type S3Store struct {
	bucket    string
	ttl       time.Duration
	objects   objectAPI
	presigner getPresigner
}

// NewS3Store builds a client from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies. A custom
// Endpoint (e.g. MinIO) switches to path-style addressing.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		bucket:    cfg.Bucket,
		ttl:       cfg.PresignTTL,
		objects:   client,
		presigner: s3.NewPresignClient(client),
	}, nil
}

// Put uploads body as a single object.
func (s *S3Store) Put(ctx context.Context, locator, contentType string, body io.Reader, size int64) error {
	if !ValidLocator(locator) {
		return ErrInvalidLocator
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(locator),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	_, err := s.objects.PutObject(ctx, in)
	return err
}

// Locate checks the object exists and returns a presigned GET URL for it.
func (s *S3Store) Locate(ctx context.Context, locator string) (Location, error) {
	if !ValidLocator(locator) {
		return Location{}, ErrInvalidLocator
	}
	_, err := s.objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return Location{}, ErrNotFound
		}
		return Location{}, err
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return Location{}, err
	}
	return Location{URL: req.URL}, nil
}

// NewStore returns the backend selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.MediaConfig) (Store, error) {
	if cfg.Backend == "s3" {
		s, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	d, err := NewDiskStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return d, nil
}
