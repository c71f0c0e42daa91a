// Package media renders review thumbnails for draft post media so the
// operator can judge a draft without loading the original asset.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Options configure the previewer.
type Options struct {
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PathStyle     bool
	LocalDir        string
	DownloadTimeout time.Duration
	MaxBytes        int64
	ThumbWidth      int
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Previewer downloads draft media, renders a bounded thumbnail, and stores
// it for the dashboard.
type Previewer struct {
	opts       Options
	httpClient *http.Client
	dest       uploader
	logger     *zap.Logger
}

// NewPreviewer picks S3 when a bucket is configured, the local directory
// otherwise.
func NewPreviewer(ctx context.Context, opts Options, logger *zap.Logger) (*Previewer, error) {
	timeout := opts.DownloadTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if opts.ThumbWidth <= 0 {
		opts.ThumbWidth = 512
	}

	var dest uploader
	if opts.S3Bucket != "" {
		client, err := newS3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		dest = &s3Uploader{client: client, bucket: opts.S3Bucket}
	} else {
		dir := opts.LocalDir
		if dir == "" {
			dir = "./previews"
		}
		dest = &localUploader{baseDir: dir}
	}

	return &Previewer{
		opts:       opts,
		httpClient: &http.Client{Timeout: timeout},
		dest:       dest,
		logger:     logger,
	}, nil
}

func newS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.S3Region),
	}
	if opts.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               opts.S3Endpoint,
					HostnameImmutable: opts.S3PathStyle,
					SigningRegion:     opts.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.S3PathStyle
	}), nil
}

// Generate downloads the media, renders the thumbnail, and returns the
// stored preview key.
func (p *Previewer) Generate(ctx context.Context, postID, mediaURL string) (string, error) {
	data, err := p.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode media: %w", err)
	}

	thumb := imaging.Fit(img, p.opts.ThumbWidth, p.opts.ThumbWidth, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := fmt.Sprintf("post-previews/%s.jpg", postID)
	if _, err := p.dest.Upload(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	p.logger.Debug("preview generated", zap.String("post", postID), zap.String("key", key))
	return key, nil
}

func (p *Previewer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	limit := p.opts.MaxBytes
	if limit == 0 {
		limit = 25 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("media too large (>%d bytes)", limit)
	}
	return body, nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	key = sanitizeKey(key)
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if s.client == nil {
		return "", errors.New("s3 uploader not configured")
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
