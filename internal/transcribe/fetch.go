package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"vocalytics/internal/apperr"
	"vocalytics/internal/storage"
)

const maxResultBytes = 64 << 20

// Fetcher loads a result document from a job's output location.
type Fetcher interface {
	Fetch(ctx context.Context, outputURI string) ([]byte, error)
}

// DocumentFetcher reads result documents written to the object store's bucket
// through the store, and anything else over HTTP.
type DocumentFetcher struct {
	store  storage.Store
	client *http.Client
}

func NewDocumentFetcher(store storage.Store, client *http.Client) *DocumentFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DocumentFetcher{store: store, client: client}
}

func (f *DocumentFetcher) Fetch(ctx context.Context, outputURI string) ([]byte, error) {
	if outputURI == "" {
		return nil, fmt.Errorf("%w: transcription URL is unavailable", apperr.ErrMalformedResult)
	}
	if f.store != nil {
		if key, ok := storage.KeyFromURL(f.store.Bucket(), outputURI); ok {
			data, err := f.store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("fetch result %s: %w", key, err)
			}
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURI, nil)
	if err != nil {
		return nil, fmt.Errorf("build result request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "Error fetching transcription.", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch result: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}
