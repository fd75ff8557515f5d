package media

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/domain/mimetypes"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	Timeout       time.Duration
}

// Enabled reports whether enough is configured to reach an object host.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// MinioGateway uploads audio payloads to an S3 compatible host.
// A gateway built from an incomplete Config is valid but disabled, and the
// ingress service falls back to inline data URIs.
type MinioGateway struct {
	cfg     Config
	client  *minio.Client
	log     *slog.Logger
	enabled bool
}

func NewMinioGateway(cfg Config, log *slog.Logger) (*MinioGateway, error) {
	if !cfg.Enabled() {
		log.Info("Media gateway disabled, audio will be stored inline")
		return &MinioGateway{cfg: cfg, log: log}, nil
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	// One attempt per upload: retrying is the caller's business.
	client, err := minio.New(hostOf(cfg.Endpoint), &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("media client: %w", err)
	}
	return &MinioGateway{cfg: cfg, client: client, log: log, enabled: true}, nil
}

func (g *MinioGateway) IsEnabled() bool {
	return g.enabled
}

// EnsureBucket creates the configured bucket when it is missing.
func (g *MinioGateway) EnsureBucket(ctx context.Context) error {
	if !g.enabled {
		return nil
	}
	exists, err := g.client.BucketExists(ctx, g.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return g.client.MakeBucket(ctx, g.cfg.Bucket, minio.MakeBucketOptions{Region: g.cfg.Region})
	}
	return nil
}

// UploadAudio stores payload once under folderHint and returns its URL.
// Either a usable URL comes back or an *errors.UploadError does.
func (g *MinioGateway) UploadAudio(ctx context.Context, payload []byte, contentType string, sizeBytes int64, folderHint string) (domain.UploadedObject, error) {
	if !g.enabled {
		return domain.UploadedObject{}, &errors.UploadError{Cause: errors.ErrGatewayDisabled}
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	key := objectKey(folderHint, contentType)
	start := time.Now()
	info, err := g.client.PutObject(ctx, g.cfg.Bucket, key,
		bytes.NewReader(payload), sizeBytes,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		g.log.Warn("Audio upload failed", "key", key, "error", err)
		return domain.UploadedObject{}, &errors.UploadError{Cause: err}
	}

	g.log.Debug("Audio uploaded", "key", info.Key, "size", info.Size, "took", time.Since(start))
	return domain.UploadedObject{
		URL:         g.objectURL(key),
		ExternalRef: g.cfg.Bucket + "/" + key,
	}, nil
}

func (g *MinioGateway) objectURL(key string) string {
	base := strings.TrimRight(g.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if g.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + hostOf(g.cfg.Endpoint)
	}
	return base + "/" + url.PathEscape(g.cfg.Bucket) + "/" + escapeKey(key)
}

func objectKey(folderHint, contentType string) string {
	folder := strings.Trim(path.Clean("/"+folderHint), "/")
	name := uuid.NewString() + mimetypes.Extension(contentType)
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func hostOf(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimRight(endpoint, "/")
}
