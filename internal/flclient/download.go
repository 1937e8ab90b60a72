package flclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 responses from the blob store. Tests override this to avoid
// real sleeps.
var RetryBaseDelay = 2 * time.Second

const downloadMaxRetries = 4

// DownloadBlob fetches the weight blob behind a release link. 429
// responses are retried with exponential backoff; any other non-200
// status is an error.
func DownloadBlob(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		response, err := client.Do(request.Clone(ctx))
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", url, err)
		}

		if response.StatusCode == http.StatusOK {
			body, err := io.ReadAll(response.Body)
			response.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading blob: %w", err)
			}
			return body, nil
		}

		drainAndClose(response)

		if response.StatusCode != http.StatusTooManyRequests || attempt >= downloadMaxRetries {
			return nil, fmt.Errorf("downloading %s: status %d", url, response.StatusCode)
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func drainAndClose(response *http.Response) {
	io.Copy(io.Discard, response.Body)
	response.Body.Close()
}
