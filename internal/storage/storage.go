package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/config"
)

// BlobStore abstracts the transient audio storage backends.
type BlobStore interface {
	// Put stores data under key and returns a URL the recognition service
	// can fetch it from.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Type returns "local" or "s3".
	Type() string
}

// Lister is implemented by stores that can enumerate stale blobs for the sweeper.
type Lister interface {
	ListOlder(ctx context.Context, cutoff time.Time) ([]string, error)
}

// New creates a BlobStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (BlobStore, error) {
	if !cfg.Enabled() {
		log.Warn().Str("dir", audioDir).Msg("S3 not configured, using local audio storage")
		return NewLocalStore(audioDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
