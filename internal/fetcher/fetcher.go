package fetcher

import (
	"context"
	"io"
)

// Fetcher issues GET requests against provider APIs. Failures are returned
// as *FetchError.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The caller
	// closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
