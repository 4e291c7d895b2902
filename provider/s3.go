package provider

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ensure interface is implemented
var _ Source = (*S3Source)(nil)

// S3Client is the subset of the S3 API used by S3Source.
type S3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source streams upload content from S3 objects referenced as
// s3://bucket/key.
type S3Source struct {
	client S3Client
}

// NewS3Source creates an S3Source from the default AWS configuration.
func NewS3Source(ctx context.Context) (*S3Source, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3SourceWithClient creates an S3Source around an existing client.
func NewS3SourceWithClient(client S3Client) *S3Source {
	return &S3Source{client: client}
}

// IsS3Ref reports whether ref is an s3:// reference.
func IsS3Ref(ref string) bool {
	return strings.HasPrefix(ref, "s3://")
}

// ParseS3Ref splits s3://bucket/key into bucket and key.
func ParseS3Ref(ref string) (bucket, key string, err error) {
	if !IsS3Ref(ref) {
		return "", "", fmt.Errorf("not an s3 reference: %q", ref)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	key = strings.TrimPrefix(key, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 reference %q must name an object", ref)
	}
	return bucket, key, nil
}

// Open opens the object for streaming reads.
func (p *S3Source) Open(ctx context.Context, ref string) (io.ReadCloser, FileInfo, error) {
	bucket, key, err := ParseS3Ref(ref)
	if err != nil {
		return nil, nil, err
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open read %q: %w", ref, err)
	}

	var modTime time.Time
	if out.LastModified != nil {
		modTime = *out.LastModified
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, NewFileInfo(path.Base(key), size, false, modTime), nil
}
