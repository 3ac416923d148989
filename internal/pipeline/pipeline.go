// Package pipeline moves image bytes in and out of the system: it downloads
// source images, squeezes anything over the byte ceiling through a
// recompression ladder, uploads derived artifacts and reclaims the temporary
// ones when a job resolves.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixelsmith/internal/remote"
	"pixelsmith/internal/storage"
)

const (
	defaultFetchTimeout = 30 * time.Second
	// maxFetchBytes bounds a single download; anything larger is rejected
	// before the compression ladder ever sees it.
	maxFetchBytes = 64 << 20
)

// Options configures a Pipeline.
type Options struct {
	Store      storage.ObjectStore
	HTTPClient *http.Client
	ByteLimit  int64
	Logger     zerolog.Logger
}

// Pipeline implements the image stages of a generation job.
type Pipeline struct {
	store      storage.ObjectStore
	httpClient *http.Client
	byteLimit  int64
	logger     zerolog.Logger
}

// New builds a Pipeline. ByteLimit must be positive.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: object store is required")
	}
	if opts.ByteLimit <= 0 {
		return nil, fmt.Errorf("pipeline: byte limit must be positive, got %d", opts.ByteLimit)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Pipeline{
		store:      opts.Store,
		httpClient: client,
		byteLimit:  opts.ByteLimit,
		logger:     opts.Logger,
	}, nil
}

// Fetch downloads the image at uri. Network failures and 5xx responses come
// back as transient remote errors so the caller's retry policy applies; 4xx
// responses are permanent.
func (p *Pipeline) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", remote.Permanent(0, fmt.Sprintf("build fetch request: %v", err), err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", remote.Transient(0, fmt.Sprintf("fetch %s: %v", uri, err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", remote.Transient(resp.StatusCode, "fetch failed upstream", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, "", remote.Permanent(resp.StatusCode, "fetch rejected", nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", remote.Transient(0, fmt.Sprintf("read fetch body: %v", err), err)
	}
	if int64(len(data)) > maxFetchBytes {
		return nil, "", remote.Permanent(0, fmt.Sprintf("image exceeds %d byte fetch cap", int64(maxFetchBytes)), nil)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// EnsureUnderLimit returns data unchanged when it already fits the configured
// byte ceiling and otherwise recompresses it. The result is best-effort: once
// the quality and size floors are hit, the smallest achieved image comes back
// even if it is still over the soft limit.
func (p *Pipeline) EnsureUnderLimit(data []byte) ([]byte, string, error) {
	if int64(len(data)) <= p.byteLimit {
		return data, "", nil
	}
	shrunk, err := shrinkToLimit(data, p.byteLimit)
	if err != nil {
		return nil, "", err
	}
	if int64(len(shrunk)) > p.byteLimit {
		p.logger.Warn().
			Int("bytes", len(shrunk)).
			Int64("limit", p.byteLimit).
			Msg("pipeline: compression floor reached, returning best effort")
	}
	// The ladder re-encodes everything as JPEG.
	return shrunk, "image/jpeg", nil
}

// Store uploads data to durable object storage and returns (key, uri).
// Storage failures are permanent for the calling stage.
func (p *Pipeline) Store(ctx context.Context, key string, data []byte, contentType string) (string, string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	uri, err := p.store.Put(ctx, key, data, contentType)
	if err != nil {
		return "", "", remote.Permanent(0, fmt.Sprintf("store %s: %v", key, err), err)
	}
	return key, uri, nil
}

// Release deletes temporary artifacts. Failures are logged and swallowed:
// leaked temp objects are a cost problem, not a correctness problem, and must
// never fail a job that already resolved.
func (p *Pipeline) Release(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := p.store.Delete(ctx, keys); err != nil {
		p.logger.Warn().Err(err).Strs("keys", keys).Msg("pipeline: failed to release temp artifacts")
	}
}

// SourceKey builds the storage key for a prepared input image.
func SourceKey(jobID string, index int) string {
	return fmt.Sprintf("jobs/%s/source-%02d.jpg", jobID, index+1)
}

// ResultKey builds the storage key for the final artifact.
func ResultKey(jobID, contentType string) string {
	ext := ".jpg"
	if strings.EqualFold(contentType, "image/png") {
		ext = ".png"
	}
	return fmt.Sprintf("jobs/%s/result%s", jobID, ext)
}
