package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// resultDocument is the transcript JSON written by the recognition service.
type resultDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ResultFetcher downloads completed transcript documents.
type ResultFetcher struct {
	client     *http.Client
	maxRetries uint64
}

// NewResultFetcher creates a fetcher that retries transient failures.
func NewResultFetcher(timeout time.Duration, maxRetries int) *ResultFetcher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ResultFetcher{
		client:     &http.Client{Timeout: timeout},
		maxRetries: uint64(maxRetries),
	}
}

// Fetch downloads the result document and returns the transcript text.
// Server errors and network failures are retried; 4xx responses are not.
func (f *ResultFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", errors.New("completed job has no result URI")
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch result: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read result: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("result server error (status %d)", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("result fetch failed (status %d)", resp.StatusCode))
		}
		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, f.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}

	return parseTranscript(body)
}

func parseTranscript(body []byte) (string, error) {
	var doc resultDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", errors.New("result document has no transcripts")
	}

	parts := make([]string, 0, len(doc.Results.Transcripts))
	for _, t := range doc.Results.Transcripts {
		if s := strings.TrimSpace(t.Transcript); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}
