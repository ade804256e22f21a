package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnsupportedFormat is returned for uploads that are not a known audio container.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// WriteError reports a failed blob write. Callers must not start
// recognition after receiving one.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("storage write %q: %v", e.Key, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// audioFormats maps accepted extensions to their content type. The keys are
// also the media format names the recognition service understands.
var audioFormats = map[string]string{
	"mp3":  "audio/mpeg",
	"mp4":  "audio/mp4",
	"m4a":  "audio/mp4",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"amr":  "audio/amr",
	"webm": "audio/webm",
}

// AudioFormat returns the container format for filename, or false if it is
// not a supported audio type.
func AudioFormat(filename string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	_, ok := audioFormats[ext]
	return ext, ok
}

// Blob identifies an ingested audio file.
type Blob struct {
	Key    string
	URL    string
	Format string
}

// Ingester writes uploads to transient storage.
type Ingester struct {
	store      BlobStore
	maxRetries uint64
	now        func() time.Time
}

// NewIngester creates an ingester that retries failed writes up to maxRetries times.
func NewIngester(store BlobStore, maxRetries int) *Ingester {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Ingester{store: store, maxRetries: uint64(maxRetries), now: time.Now}
}

// Ingest stores data under a key namespaced by owner and upload time.
func (in *Ingester) Ingest(ctx context.Context, ownerID, filename string, data []byte) (*Blob, error) {
	if ownerID == "" {
		return nil, errors.New("ingest: owner is required")
	}
	format, ok := AudioFormat(filename)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	key := BlobKey(ownerID, filename, in.now())
	var url string
	op := func() error {
		u, err := in.store.Put(ctx, key, data, audioFormats[format])
		if err != nil {
			return err
		}
		url = u
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), in.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &WriteError{Key: key, Err: err}
	}

	return &Blob{Key: key, URL: url, Format: format}, nil
}

// Remove deletes an ingested blob, retrying like Ingest. The deletion is not
// tied to ctx cancellation so a disconnected client still gets its upload
// cleaned up; ctx values are kept.
func (in *Ingester) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	op := func() error { return in.store.Delete(ctx, key) }
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), in.maxRetries), ctx)
	return backoff.Retry(op, policy)
}

const removeTimeout = 30 * time.Second

var unsafeKeyRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// BlobKey builds "{owner}/{unix_ms}_{filename}" with unsafe characters replaced.
func BlobKey(ownerID, filename string, at time.Time) string {
	owner := unsafeKeyRe.ReplaceAllString(ownerID, "_")
	name := unsafeKeyRe.ReplaceAllString(filepath.Base(filename), "_")
	return fmt.Sprintf("%s/%d_%s", owner, at.UnixMilli(), name)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
