package flclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadBlob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	body, err := DownloadBlob(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), body)
}

func TestDownloadBlobRetriesThrottling(t *testing.T) {
	previous := RetryBaseDelay
	RetryBaseDelay = time.Millisecond
	defer func() { RetryBaseDelay = previous }()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer server.Close()

	body, err := DownloadBlob(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("eventually"), body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDownloadBlobFailsOnOtherStatuses(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := DownloadBlob(context.Background(), server.Client(), server.URL)
	assert.ErrorContains(t, err, "status 404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDownloadBlobHonorsContext(t *testing.T) {
	previous := RetryBaseDelay
	RetryBaseDelay = time.Minute
	defer func() { RetryBaseDelay = previous }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := DownloadBlob(ctx, server.Client(), server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
