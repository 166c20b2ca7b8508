package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log/level"

	"opti-lambda-go/config"
	"opti-lambda-go/operators"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Connector downloads an object and decodes it as parquet or csv based on
// its extension. Path is either s3://bucket/key or a key inside the
// configured bucket.
type S3Connector struct {
	// Client overrides the client built from the config and secrets.
	Client objectGetter
}

func (c *S3Connector) Open(ctx context.Context, spec SourceSpec) (operators.Source, error) {
	cfg := spec.config()
	bucket, key, err := parseObjectPath(spec.Path, cfg.Source.S3Bucket)
	if err != nil {
		return nil, err
	}
	client := c.Client
	if client == nil {
		client = newS3Client(cfg)
	}

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching s3://%s/%s", bucket, key)
	}
	defer obj.Body.Close()

	content, err := readLimited(obj.Body, cfg.Source.MaxDownloadBytes())
	if err != nil {
		return nil, errors.Wrapf(err, "downloading s3://%s/%s", bucket, key)
	}
	level.Info(spec.logger()).Log("msg", "s3 object downloaded", "bucket", bucket, "key", key, "bytes", len(content))

	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return openParquet(ctx, bytes.NewReader(content), spec)
	case ".csv":
		return openCSV(bytes.NewReader(content), spec)
	}
	return nil, ErrInvalidSource(fmt.Sprintf("cannot decode object %q: expected a .csv or .parquet key", key))
}

func newS3Client(cfg *config.Config) *s3.Client {
	secrets := cfg.Secrets
	opts := s3.Options{
		Region: cfg.Source.S3Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     secrets.S3AccessKey,
				SecretAccessKey: secrets.S3SecretKey,
				Source:          "opti-lambda env",
			}, nil
		}),
	}
	if secrets.S3Endpoint != "" {
		endpoint := secrets.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

func parseObjectPath(p, defaultBucket string) (bucket, key string, err error) {
	if rest, ok := strings.CutPrefix(p, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
	} else {
		bucket, key = defaultBucket, strings.TrimPrefix(p, "/")
	}
	if bucket == "" || key == "" {
		return "", "", ErrInvalidSource(fmt.Sprintf("object path %q needs a bucket and a key", p))
	}
	return bucket, key, nil
}

// readLimited reads all of r, failing once more than limit bytes arrive. A
// limit of zero or less disables the check.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > limit {
		return nil, ErrInvalidSource(fmt.Sprintf("object exceeds the %d byte download limit", limit))
	}
	return content, nil
}
