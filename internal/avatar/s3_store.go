package avatar

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string

	// PublicBaseURL is where the bucket is readable from, e.g. a CDN.
	// Empty derives it from BaseEndpoint or the AWS virtual-host address.
	PublicBaseURL string
}

// keep this small so tests can fake the client
type s3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps avatars in an S3 compatible bucket (AWS or MinIO) under the
// same keys LocalStore would produce. Save returns an absolute URL since the
// API does not serve /avatars in this mode.
type S3Store struct {
	client     s3Putter
	bucket     string
	publicBase string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, publicBaseURL(cfg)), nil
}

func newS3Store(client s3Putter, bucket, publicBase string) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

func publicBaseURL(cfg S3Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.BaseEndpoint != "":
		// path style, as configured on the client
		return strings.TrimRight(cfg.BaseEndpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(PublicPrefix, filepath.Base(name))

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put avatar %s: %w", key, err)
	}

	return s.publicBase + "/" + key, nil
}
