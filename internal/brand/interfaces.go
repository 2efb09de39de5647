package brand

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrKeyNotFound is returned by KVStore.Get for absent or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the coordination store backing crawl locks and status records.
// SetNX must be atomic: it reports false without writing when the key exists.
// CompareAndSwap and DeleteIfEqual must be atomic too: they act only while key
// still holds the expected value, so a lock holder never touches a lock that
// has since changed hands.
type KVStore interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error)
	DeleteIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// Dispatcher hands a crawl request to the workflow executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, req CrawlRequest) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Limiter throttles outbound fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces workflow-run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
