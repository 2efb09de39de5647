package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/hash/sha256"
	"github.com/JakeFAU/brand-dashboard/internal/id/nanoid"
	"github.com/JakeFAU/brand-dashboard/internal/storage/memory"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

type stubFetcher struct {
	mu      sync.Mutex
	resp    brand.FetchResponse
	err     error
	urls    []string
	entered chan struct{}
	release chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context, req brand.FetchRequest) (brand.FetchResponse, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL)
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.resp, f.err
}

func (f *stubFetcher) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type countingLimiter struct {
	mu     sync.Mutex
	calls  int
	onWait func()
}

func (l *countingLimiter) Wait(ctx context.Context, _ string) error {
	l.mu.Lock()
	l.calls++
	hook := l.onWait
	l.onWait = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

// statusLog records every status record written to the store.
type statusLog struct {
	brand.KVStore
	mu      sync.Mutex
	records []brand.CrawlStatus
}

func (s *statusLog) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.HasSuffix(key, ":status") {
		var status brand.CrawlStatus
		if err := json.Unmarshal(value, &status); err == nil {
			s.mu.Lock()
			s.records = append(s.records, status)
			s.mu.Unlock()
		}
	}
	return s.KVStore.Set(ctx, key, value, ttl)
}

func (s *statusLog) currentSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		if r.CurrentStep == nil {
			out = append(out, string(r.Status))
			continue
		}
		out = append(out, string(r.Status)+":"+string(*r.CurrentStep))
	}
	return out
}

type harness struct {
	exec     *Executor
	kv       *statusLog
	blobs    *memory.BlobStore
	settings *memory.BrandSettingsStore
	fetcher  *stubFetcher
	limiter  *countingLimiter
}

func newHarness(t *testing.T, resp brand.FetchResponse, fetchErr error) *harness {
	t.Helper()
	h := &harness{
		kv:       &statusLog{KVStore: memory.NewKVStore(nil)},
		blobs:    memory.NewBlobStore(),
		settings: memory.NewBrandSettingsStore(nanoid.New(), nil),
		fetcher:  &stubFetcher{resp: resp, err: fetchErr},
		limiter:  &countingLimiter{},
	}
	h.exec = New(Deps{
		KV:       h.kv,
		Fetcher:  h.fetcher,
		Limiter:  h.limiter,
		Blobs:    h.blobs,
		Settings: h.settings,
		Hasher:   sha256.New(),
		IDs:      nanoid.New(),
	}, Config{BlobPrefix: "/snapshots/"}, nil)
	return h
}

func okPage() brand.FetchResponse {
	return brand.FetchResponse{
		URL:        "https://acme.test/home/",
		StatusCode: http.StatusOK,
		Body:       []byte(landingPage),
	}
}

func (h *harness) status(t *testing.T, org string) brand.CrawlStatus {
	t.Helper()
	raw, err := h.kv.Get(context.Background(), brand.StatusKey(org))
	require.NoError(t, err)
	var status brand.CrawlStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	return status
}

func lock(t *testing.T, kv brand.KVStore, org, runID string) {
	t.Helper()
	ok, err := kv.SetNX(context.Background(), brand.LockKey(org), []byte(runID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExecutor_RunSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	ctx := context.Background()
	lock(t, h.kv, "org-1", "run-1")
	seed, err := json.Marshal(brand.NewCrawlStatus("run-1"))
	require.NoError(t, err)
	require.NoError(t, h.kv.Set(ctx, brand.StatusKey("org-1"), seed, time.Minute))

	req := brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test/home/", WorkflowRunID: "run-1"}
	require.NoError(t, h.exec.Run(ctx, req))

	status := h.status(t, "org-1")
	require.Equal(t, brand.RunCompleted, status.Status)
	require.Nil(t, status.CurrentStep)
	require.Nil(t, status.Error)
	require.Equal(t, "run-1", status.RunID())
	for _, step := range status.Steps {
		require.Equal(t, brand.StepCompleted, step.Status, step.ID)
	}

	require.Equal(t, []string{
		"crawling:validate",
		"crawling:validate",
		"crawling:crawl",
		"crawling:analyze",
		"crawling:save",
		"completed",
	}, h.kv.currentSteps())

	_, err = h.kv.Get(ctx, brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
	require.Equal(t, 1, h.limiter.calls)

	saved, err := h.settings.GetByOrganization(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "Acme Rockets", saved.BrandName)
	require.Equal(t, "https://acme.test/home/", saved.WebsiteURL)
	require.Equal(t, "run-1", saved.WorkflowRunID)
	require.Len(t, saved.ContentHash, 64)
	require.Equal(t, "memory://snapshots/org-1/"+saved.ContentHash+".html", saved.SnapshotURI)

	body, ok := h.blobs.Object("snapshots/org-1/" + saved.ContentHash + ".html")
	require.True(t, ok)
	require.Equal(t, landingPage, string(body))
}

func TestExecutor_RunValidateFailure(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"scheme": "ftp://acme.test",
		"host":   "https://",
		"parse":  "http://[::1",
	}
	for name, site := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, okPage(), nil)
			lock(t, h.kv, "org-1", "run-1")

			err := h.exec.Run(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: site, WorkflowRunID: "run-1"})
			require.Error(t, err)

			status := h.status(t, "org-1")
			require.Equal(t, brand.RunError, status.Status)
			require.NotNil(t, status.Error)
			require.NotNil(t, status.CurrentStep)
			require.Equal(t, brand.StepValidate, *status.CurrentStep)

			validate, _ := status.Step(brand.StepValidate)
			require.Equal(t, brand.StepError, validate.Status)
			for _, id := range []brand.StepID{brand.StepCrawl, brand.StepAnalyze, brand.StepSave} {
				step, _ := status.Step(id)
				require.Equal(t, brand.StepPending, step.Status, id)
			}

			require.Empty(t, h.fetcher.urls)
			_, err = h.kv.Get(context.Background(), brand.LockKey("org-1"))
			require.ErrorIs(t, err, brand.ErrKeyNotFound)
		})
	}
}

func TestExecutor_RunCrawlFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		resp brand.FetchResponse
		err  error
		want string
	}{
		"transport":  {err: errors.New("connection refused"), want: "connection refused"},
		"status":     {resp: brand.FetchResponse{StatusCode: http.StatusBadGateway, Body: []byte("x")}, want: "status 502"},
		"empty body": {resp: brand.FetchResponse{StatusCode: http.StatusOK, Body: []byte("  \n")}, want: "empty response body"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tc.resp, tc.err)
			err := h.exec.Run(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "run-1"})
			require.ErrorContains(t, err, tc.want)

			status := h.status(t, "org-1")
			require.Equal(t, brand.RunError, status.Status)
			crawl, _ := status.Step(brand.StepCrawl)
			require.Equal(t, brand.StepError, crawl.Status)
			require.NotNil(t, crawl.Error)
			require.Contains(t, *crawl.Error, tc.want)
			validate, _ := status.Step(brand.StepValidate)
			require.Equal(t, brand.StepCompleted, validate.Status)

			_, err = h.settings.GetByOrganization(context.Background(), "org-1")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestExecutor_RunReplacesForeignStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	ctx := context.Background()
	stale, err := json.Marshal(brand.NewCrawlStatus("older-run"))
	require.NoError(t, err)
	require.NoError(t, h.kv.Set(ctx, brand.StatusKey("org-1"), stale, time.Minute))

	require.NoError(t, h.exec.Run(ctx, brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "run-2"}))
	require.Equal(t, "run-2", h.status(t, "org-1").RunID())
}

func TestExecutor_RunRefusesForeignLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	ctx := context.Background()
	lock(t, h.kv, "org-1", "live-run")
	live, err := json.Marshal(brand.NewCrawlStatus("live-run"))
	require.NoError(t, err)
	require.NoError(t, h.kv.Set(ctx, brand.StatusKey("org-1"), live, time.Minute))

	err = h.exec.Run(ctx, brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "stale-run"})
	require.ErrorIs(t, err, apperr.ErrConflict)

	status := h.status(t, "org-1")
	require.Equal(t, "live-run", status.RunID())
	require.Equal(t, brand.RunCrawling, status.Status)
	owner, err := h.kv.Get(ctx, brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, "live-run", string(owner))
	require.Empty(t, h.fetcher.urls)
}

func TestExecutor_DuplicateRunDoesNotFreeNewerLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	ctx := context.Background()
	req := brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "run-1"}
	lock(t, h.kv, "org-1", "run-1")
	require.NoError(t, h.exec.Run(ctx, req))

	// A newer crawl is admitted, then the first request is delivered again.
	lock(t, h.kv, "org-1", "run-2")
	require.ErrorIs(t, h.exec.Run(ctx, req), apperr.ErrConflict)

	owner, err := h.kv.Get(ctx, brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, "run-2", string(owner))
}

func TestExecutor_ConcurrentDeliveriesOfOneRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	h.fetcher.entered = make(chan struct{}, 2)
	h.fetcher.release = make(chan struct{})
	ctx := context.Background()
	req := brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "run-dup"}
	lock(t, h.kv, "org-1", "run-dup")

	first := make(chan error, 1)
	go func() { first <- h.exec.Run(ctx, req) }()
	<-h.fetcher.entered

	// The second delivery is turned away while the first is crawling.
	require.ErrorIs(t, h.exec.Run(ctx, req), apperr.ErrConflict)
	require.Equal(t, 1, h.fetcher.fetches())

	ok, err := h.kv.SetNX(ctx, brand.LockKey("org-1"), []byte("run-new"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	close(h.fetcher.release)
	require.NoError(t, <-first)
	_, err = h.kv.Get(ctx, brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
}

func TestExecutor_RunCancelledKeepsLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.limiter.onWait = cancel
	req := brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test", WorkflowRunID: "run-1"}

	require.Error(t, h.exec.Run(ctx, req))
	owner, err := h.kv.Get(context.Background(), brand.LockKey("org-1"))
	require.NoError(t, err)
	require.Equal(t, "run-1", string(owner))

	// The redelivered request reclaims its own lock and finishes.
	require.NoError(t, h.exec.Run(context.Background(), req))
	_, err = h.kv.Get(context.Background(), brand.LockKey("org-1"))
	require.ErrorIs(t, err, brand.ErrKeyNotFound)
}

func TestExecutor_StartGeneratesRunID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	runID, err := h.exec.Start(context.Background(), brand.CrawlRequest{OrganizationID: "org-1", WebsiteURL: "https://acme.test"})
	require.NoError(t, err)
	require.Len(t, runID, 16)
	h.exec.Wait()

	status := h.status(t, "org-1")
	require.Equal(t, runID, status.RunID())
	require.Equal(t, brand.RunCompleted, status.Status)
}

func TestExecutor_StartRejectsMissingFields(t *testing.T) {
	t.Parallel()

	h := newHarness(t, okPage(), nil)
	_, err := h.exec.Start(context.Background(), brand.CrawlRequest{OrganizationID: "org-1"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = h.exec.Start(context.Background(), brand.CrawlRequest{WebsiteURL: "https://acme.test"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	h.exec.Wait()
	require.Empty(t, h.fetcher.urls)
}
