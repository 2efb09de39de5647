package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/id/nanoid"
	"github.com/JakeFAU/brand-dashboard/internal/storage/memory"
	redisstore "github.com/JakeFAU/brand-dashboard/internal/storage/redis"
)

type recordingKV struct {
	brand.KVStore
	mu       sync.Mutex
	writes   []string
	deletes  []string
	setErr   error
	setNXErr error
}

func newRecordingKV() *recordingKV {
	return &recordingKV{KVStore: memory.NewKVStore(nil)}
}

func (r *recordingKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	r.writes = append(r.writes, key)
	r.mu.Unlock()
	if r.setNXErr != nil {
		return false, r.setNXErr
	}
	return r.KVStore.SetNX(ctx, key, value, ttl)
}

func (r *recordingKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	r.writes = append(r.writes, key)
	r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	return r.KVStore.Set(ctx, key, value, ttl)
}

func (r *recordingKV) DeleteIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	r.mu.Lock()
	r.deletes = append(r.deletes, key)
	r.mu.Unlock()
	return r.KVStore.DeleteIfEqual(ctx, key, value)
}

func (r *recordingKV) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *recordingKV) Deletes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deletes...)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []brand.CrawlRequest
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req brand.CrawlRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeDispatcher) Requests() []brand.CrawlRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]brand.CrawlRequest(nil), f.requests...)
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func caller(org string) auth.Principal {
	return auth.Principal{UserID: "user-1", SessionToken: "tok", ActiveOrganizationID: org}
}

func readStatus(t *testing.T, kv brand.KVStore, tenant string) brand.CrawlStatus {
	t.Helper()
	raw, err := kv.Get(context.Background(), brand.StatusKey(tenant))
	require.NoError(t, err)
	var status brand.CrawlStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	return status
}

func TestStartCrawl_Success(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore(nil)
	dispatcher := &fakeDispatcher{}
	c := New(kv, nanoid.New(), dispatcher, Config{}, nil)

	runID, err := c.StartCrawl(context.Background(), caller("org-1"), " org-1 ", " https://example.com ")
	require.NoError(t, err)
	require.Len(t, runID, 16)
	c.Wait()

	lock, err := kv.Get(context.Background(), brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, runID, string(lock))
	ttl, ok := kv.TTL(brand.LockKey("org-1"))
	require.True(t, ok)
	require.LessOrEqual(t, ttl, 300*time.Second)

	status := readStatus(t, kv, "org-1")
	require.Equal(t, brand.RunCrawling, status.Status)
	require.Equal(t, runID, status.RunID())
	require.NotNil(t, status.CurrentStep)
	require.Equal(t, brand.StepValidate, *status.CurrentStep)
	require.Len(t, status.Steps, 4)
	require.Equal(t, brand.StepInProgress, status.Steps[0].Status)
	for _, step := range status.Steps[1:] {
		require.Equal(t, brand.StepPending, step.Status)
	}
	require.Nil(t, status.Error)

	require.Equal(t, []brand.CrawlRequest{{
		OrganizationID: "org-1",
		WebsiteURL:     "https://example.com",
		WorkflowRunID:  runID,
	}}, dispatcher.Requests())
}

func TestStartCrawl_ConcurrentCallsAdmitOne(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisKV, err := redisstore.New(client, redisstore.Config{})
	require.NoError(t, err)

	stores := map[string]brand.KVStore{
		"memory": memory.NewKVStore(nil),
		"redis":  redisKV,
	}
	for name, kv := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)
			var (
				wg        sync.WaitGroup
				successes atomic.Int32
				conflicts atomic.Int32
				runIDs    sync.Map
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					runID, err := c.StartCrawl(context.Background(), caller("org-race"), "org-race", "https://example.com")
					switch {
					case err == nil:
						successes.Add(1)
						runIDs.Store(runID, true)
					case errors.Is(err, apperr.ErrConflict):
						conflicts.Add(1)
					default:
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()
			c.Wait()

			require.Equal(t, int32(1), successes.Load())
			require.Equal(t, int32(19), conflicts.Load())
		})
	}
}

func TestStartCrawl_ConflictHasNoSideEffects(t *testing.T) {
	t.Parallel()

	kv := newRecordingKV()
	dispatcher := &fakeDispatcher{}
	c := New(kv, nanoid.New(), dispatcher, Config{}, nil)

	first, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	_, err = c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://other.example.com")
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.Equal(t, 409, apperr.HTTPStatus(err))
	require.Equal(t, "crawl already in progress", apperr.PublicMessage(err))
	c.Wait()

	require.Len(t, dispatcher.Requests(), 1)
	require.Equal(t, first, readStatus(t, kv, "org-1").RunID())
}

func TestStartCrawl_InvalidInputMakesNoWrites(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		tenant string
		url    string
	}{
		"empty url":    {tenant: "org-1", url: ""},
		"blank url":    {tenant: "org-1", url: "   "},
		"empty tenant": {tenant: "", url: "https://example.com"},
		"blank tenant": {tenant: "  ", url: "https://example.com"},
		"both missing": {},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			kv := newRecordingKV()
			dispatcher := &fakeDispatcher{}
			c := New(kv, nanoid.New(), dispatcher, Config{}, nil)

			_, err := c.StartCrawl(context.Background(), caller("org-1"), tc.tenant, tc.url)
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
			c.Wait()
			require.Empty(t, kv.Writes())
			require.Empty(t, dispatcher.Requests())
		})
	}
}

func TestStartCrawl_UnauthorizedMakesNoWrites(t *testing.T) {
	t.Parallel()

	cases := map[string]auth.Principal{
		"anonymous":        {},
		"no active tenant": {UserID: "user-1"},
		"other tenant":     caller("org-2"),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			kv := newRecordingKV()
			c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)

			_, err := c.StartCrawl(context.Background(), p, "org-1", "https://example.com")
			require.ErrorIs(t, err, apperr.ErrUnauthorized)
			require.Empty(t, kv.Writes())
		})
	}
}

func TestStartCrawl_UnauthenticatedBeatsInvalidInput(t *testing.T) {
	t.Parallel()

	c := New(newRecordingKV(), nanoid.New(), &fakeDispatcher{}, Config{}, nil)
	_, err := c.StartCrawl(context.Background(), auth.Principal{}, "", "")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestStartCrawl_LockStoreError(t *testing.T) {
	t.Parallel()

	kv := newRecordingKV()
	kv.setNXErr = errors.New("connection refused")
	c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)

	_, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.ErrorIs(t, err, apperr.ErrInternal)
	require.Equal(t, apperr.InternalMessage, apperr.PublicMessage(err))
}

func TestStartCrawl_StatusWriteFailureReleasesLock(t *testing.T) {
	t.Parallel()

	kv := newRecordingKV()
	kv.setErr = errors.New("disk full")
	dispatcher := &fakeDispatcher{}
	c := New(kv, nanoid.New(), dispatcher, Config{}, nil)

	_, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.ErrorIs(t, err, apperr.ErrInternal)
	c.Wait()

	require.Equal(t, []string{brand.LockKey("org-1")}, kv.Deletes())
	_, err = kv.Get(context.Background(), brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
	require.Empty(t, dispatcher.Requests())
}

func TestStartCrawl_IDFailureTakesNoLock(t *testing.T) {
	t.Parallel()

	kv := newRecordingKV()
	c := New(kv, failingIDs{}, &fakeDispatcher{}, Config{}, nil)

	_, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.ErrorIs(t, err, apperr.ErrInternal)
	require.Empty(t, kv.Writes())
	_, err = kv.Get(context.Background(), brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
}

func TestStartCrawl_DispatchFailureKeepsLockByDefault(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore(nil)
	c := New(kv, nanoid.New(), &fakeDispatcher{err: errors.New("connection reset")}, Config{}, nil)

	runID, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	c.Wait()

	_, err = kv.Get(context.Background(), brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, brand.RunCrawling, readStatus(t, kv, "org-1").Status)
}

func TestStartCrawl_DispatchFailureRollsBackWhenEnabled(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore(nil)
	c := New(kv, nanoid.New(), &fakeDispatcher{err: errors.New("connection reset")},
		Config{RollbackOnDispatchFailure: true}, nil)

	runID, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	_, err = kv.Get(context.Background(), brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
	status := readStatus(t, kv, "org-1")
	require.Equal(t, brand.RunError, status.Status)
	require.Equal(t, runID, status.RunID())
	require.NotNil(t, status.Error)
	require.Equal(t, DispatchFailedMessage, *status.Error)
}

func TestStartCrawl_RollbackLeavesForeignLock(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore(nil)
	// The lock expires and another run takes it before the dispatch fails.
	dispatcher := dispatchFunc(func(ctx context.Context, req brand.CrawlRequest) error {
		if _, err := kv.DeleteIfEqual(ctx, brand.LockKey(req.OrganizationID), []byte(req.WorkflowRunID)); err != nil {
			return err
		}
		if _, err := kv.SetNX(ctx, brand.LockKey(req.OrganizationID), []byte("newer-run"), time.Minute); err != nil {
			return err
		}
		return errors.New("connection reset")
	})
	c := New(kv, nanoid.New(), dispatcher, Config{RollbackOnDispatchFailure: true}, nil)

	runID, err := c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	require.Equal(t, runID, readStatus(t, kv, "org-1").RunID())
	lock, err := kv.Get(context.Background(), brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, "newer-run", string(lock))
	require.Equal(t, brand.RunCrawling, readStatus(t, kv, "org-1").Status)
}

func TestStartCrawl_DispatchOutlivesRequestContext(t *testing.T) {
	t.Parallel()

	seen := make(chan error, 1)
	dispatcher := dispatchFunc(func(ctx context.Context, _ brand.CrawlRequest) error {
		seen <- ctx.Err()
		return nil
	})
	c := New(memory.NewKVStore(nil), nanoid.New(), dispatcher, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.StartCrawl(ctx, caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	cancel()
	c.Wait()

	require.NoError(t, <-seen)
}

type dispatchFunc func(context.Context, brand.CrawlRequest) error

func (f dispatchFunc) Dispatch(ctx context.Context, req brand.CrawlRequest) error {
	return f(ctx, req)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	kv := memory.NewKVStore(nil)
	c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)
	ctx := context.Background()

	idle, err := c.GetStatus(ctx, caller("org-1"), "org-1")
	require.NoError(t, err)
	require.Equal(t, brand.RunIdle, idle.Status)
	require.Nil(t, idle.CurrentStep)
	require.Empty(t, idle.Steps)
	require.NotNil(t, idle.Steps)

	runID, err := c.StartCrawl(ctx, caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	status, err := c.GetStatus(ctx, caller("org-1"), "org-1")
	require.NoError(t, err)
	require.Equal(t, runID, status.RunID())
	require.Equal(t, brand.RunCrawling, status.Status)

	_, err = c.GetStatus(ctx, caller("org-2"), "org-1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = c.GetStatus(ctx, caller("org-1"), "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	require.NoError(t, kv.Set(ctx, brand.StatusKey("org-1"), []byte("{not json"), time.Minute))
	_, err = c.GetStatus(ctx, caller("org-1"), "org-1")
	require.ErrorIs(t, err, apperr.ErrInternal)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStartCrawl_LockExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	kv := memory.NewKVStore(clk)
	c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)
	ctx := context.Background()

	_, err := c.StartCrawl(ctx, caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	clk.Advance(299 * time.Second)
	_, err = c.StartCrawl(ctx, caller("org-1"), "org-1", "https://example.com")
	require.ErrorIs(t, err, apperr.ErrConflict)

	clk.Advance(2 * time.Second)
	status, err := c.GetStatus(ctx, caller("org-1"), "org-1")
	require.NoError(t, err)
	require.Equal(t, brand.RunIdle, status.Status)

	second, err := c.StartCrawl(ctx, caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	require.NotEmpty(t, second)
	c.Wait()
}

func TestStartCrawl_RedisKeysExpire(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kv, err := redisstore.New(client, redisstore.Config{})
	require.NoError(t, err)
	c := New(kv, nanoid.New(), &fakeDispatcher{}, Config{}, nil)

	_, err = c.StartCrawl(context.Background(), caller("org-1"), "org-1", "https://example.com")
	require.NoError(t, err)
	c.Wait()

	require.Equal(t, 300*time.Second, mr.TTL(brand.LockKey("org-1")))
	require.Equal(t, 300*time.Second, mr.TTL(brand.StatusKey("org-1")))
	mr.FastForward(301 * time.Second)
	require.False(t, mr.Exists(brand.LockKey("org-1")))
	require.False(t, mr.Exists(brand.StatusKey("org-1")))
}
