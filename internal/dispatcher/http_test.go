package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

func TestHTTPDispatcher_PostsRequest(t *testing.T) {
	t.Parallel()

	var got brand.CrawlRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		token = r.Header.Get(TokenHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.Client(), HTTPConfig{URL: srv.URL, SharedSecret: "s3cret"}, nil)
	require.NoError(t, err)

	req := brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://example.com", WorkflowRunID: "run-1"}
	require.NoError(t, d.Dispatch(context.Background(), req))
	require.Equal(t, req, got)
	require.Equal(t, "s3cret", token)
}

func TestHTTPDispatcher_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.Client(), HTTPConfig{URL: srv.URL, MaxRetries: 3, InitialInterval: time.Millisecond}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://example.com"}))
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.Client(), HTTPConfig{URL: srv.URL, MaxRetries: 2, InitialInterval: time.Millisecond}, nil)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://example.com"})
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcher_ClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.Client(), HTTPConfig{URL: srv.URL, MaxRetries: 5, InitialInterval: time.Millisecond}, nil)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://example.com"})
	require.ErrorContains(t, err, "401")
	require.Equal(t, int32(1), calls.Load())
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTP(nil, HTTPConfig{}, nil)
	require.Error(t, err)
}
