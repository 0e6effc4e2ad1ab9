// Package s3 reads a folder tree from an S3 bucket, treating "/" separated
// key prefixes as folders.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yashugupta786/sp/internal/source"
)

const maxContentBytes = 256 << 20

// API is the subset of the S3 client the provider needs.
type API interface {
	awss3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Provider implements source.Provider over one bucket.
type Provider struct {
	api    API
	bucket string
	prefix string
}

var _ source.Provider = (*Provider)(nil)

// ClientConfig configures the S3 client built by NewFromConfig.
type ClientConfig struct {
	Region       string
	Endpoint     string // for S3 compatible stores such as MinIO
	UsePathStyle bool
}

// New wraps an existing client. All provider paths are relative to prefix.
func New(api API, bucket, prefix string) *Provider {
	return &Provider{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewFromConfig builds a client from the default AWS credential chain.
func NewFromConfig(ctx context.Context, cfg ClientConfig, bucket, prefix string) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(client, bucket, prefix), nil
}

// Factory returns a source.Factory for s3://bucket/prefix URLs.
func Factory(cfg ClientConfig) source.Factory {
	return func(ctx context.Context, u *url.URL) (source.Provider, error) {
		if u.Host == "" {
			return nil, fmt.Errorf("s3 url %q has no bucket", u.String())
		}
		return NewFromConfig(ctx, cfg, u.Host, u.Path)
	}
}

func (p *Provider) key(rel string) string {
	return strings.Trim(path.Join(p.prefix, strings.Trim(rel, "/")), "/")
}

// ListFolders implements source.Provider.
func (p *Provider) ListFolders(ctx context.Context, folder string) ([]source.Folder, error) {
	prefix := dirPrefix(p.key(folder))
	pager := awss3.NewListObjectsV2Paginator(p.api, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var (
		out   []source.Folder
		found bool
	)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", folder, mapError(err))
		}
		if len(page.Contents) > 0 || len(page.CommonPrefixes) > 0 {
			found = true
		}
		for _, cp := range page.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			if strings.HasPrefix(name, ".") {
				continue
			}
			out = append(out, source.Folder{Name: name, Path: joinRel(folder, name)})
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", source.ErrNotFound, folder)
	}
	return out, nil
}

// ListFiles implements source.Provider.
func (p *Provider) ListFiles(ctx context.Context, folder string) ([]source.File, error) {
	prefix := dirPrefix(p.key(folder))
	pager := awss3.NewListObjectsV2Paginator(p.api, &awss3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})

	var (
		out   []source.File
		found bool
	)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", folder, mapError(err))
		}
		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			// Zero-byte "directory marker" objects.
			if rel == "" || strings.HasSuffix(rel, "/") || hidden(rel) {
				continue
			}
			out = append(out, source.File{
				ID:           key,
				Name:         path.Base(rel),
				RelativePath: rel,
				Path:         joinRel(folder, rel),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", source.ErrNotFound, folder)
	}
	return out, nil
}

// FetchContent implements source.Provider.
func (p *Provider) FetchContent(ctx context.Context, file source.File) ([]byte, error) {
	key := file.ID
	if key == "" {
		key = p.key(file.Path)
	}
	out, err := p.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, mapError(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxContentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	if len(data) > maxContentBytes {
		return nil, fmt.Errorf("object %q exceeds %d bytes", key, maxContentBytes)
	}
	return data, nil
}

func mapError(err error) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		apiErr   smithy.APIError
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &noBucket):
		return fmt.Errorf("%w: %w", source.ErrNotFound, err)
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%w: %w", source.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %w", source.ErrUnauthorized, err)
		}
	}
	return err
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func joinRel(base, rel string) string {
	base = strings.Trim(base, "/")
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
