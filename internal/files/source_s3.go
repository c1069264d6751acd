package files

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config holds credentials for s3:// downloads. An empty access key falls
// back to the default AWS credential chain.
type S3Config struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// S3Source downloads s3://bucket/key objects from AWS S3 or S3-compatible
// storage.
type S3Source struct {
	config S3Config

	once     sync.Once
	client   *s3.S3
	clientErr error
}

// NewS3Source creates an S3 source. The client is built on first use.
func NewS3Source(config S3Config) *S3Source {
	return &S3Source{config: config}
}

func (s *S3Source) Scheme() string {
	return "s3"
}

func (s *S3Source) s3Client() (*s3.S3, error) {
	s.once.Do(func() {
		region := s.config.Region
		if region == "" {
			region = "us-east-1"
		}
		awsConfig := &aws.Config{Region: aws.String(region)}
		if s.config.AccessKey != "" {
			awsConfig.Credentials = credentials.NewStaticCredentials(s.config.AccessKey, s.config.SecretKey, "")
		}

		// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
		if s.config.Endpoint != "" {
			awsConfig.Endpoint = aws.String(s.config.Endpoint)
			awsConfig.S3ForcePathStyle = aws.Bool(true)
		}

		sess, err := session.NewSession(awsConfig)
		if err != nil {
			s.clientErr = fmt.Errorf("failed to create AWS session: %w", err)
			return
		}
		s.client = s3.New(sess)
		log.Printf("[S3Source] Initialized S3 client: region=%s", region)
	})
	return s.client, s.clientErr
}

// parseS3Location splits s3://bucket/key.
func parseS3Location(location *url.URL) (string, string, error) {
	bucket := location.Host
	key := strings.TrimPrefix(location.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 location must be s3://bucket/key, got %s", location.String())
	}
	return bucket, key, nil
}

func (s *S3Source) Open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, 0, err
	}

	client, err := s.s3Client()
	if err != nil {
		return nil, 0, err
	}

	log.Printf("[S3Source] Downloading s3://%s/%s", bucket, key)
	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object from S3: %w", err)
	}

	size := int64(-1)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}
