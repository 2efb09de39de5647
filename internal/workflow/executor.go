// Package workflow runs the brand crawl: validate the site, fetch it,
// extract a brand profile and persist it, rewriting the tenant's status
// record at every step.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/clock/system"
	"github.com/JakeFAU/brand-dashboard/internal/metrics"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

var tracer = otel.Tracer("github.com/JakeFAU/brand-dashboard/internal/workflow")

// Config controls Executor behavior.
type Config struct {
	BlobPrefix   string
	ContentType  string
	LockTTL      time.Duration
	StatusTTL    time.Duration
	StoreTimeout time.Duration
	// RunTimeout bounds a background run started with Start.
	RunTimeout time.Duration
}

// Deps are the collaborators an Executor drives.
type Deps struct {
	KV       brand.KVStore
	Fetcher  brand.Fetcher
	Limiter  brand.Limiter
	Blobs    brand.BlobStore
	Settings store.BrandSettingsRepository
	Hasher   brand.Hasher
	IDs      brand.IDGenerator
	Clock    brand.Clock
}

// Executor consumes crawl requests and executes the four-step pipeline.
type Executor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New constructs an Executor.
func New(deps Deps, cfg Config, logger *zap.Logger) *Executor {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 300 * time.Second
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 300 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{deps: deps, cfg: cfg, logger: logger}
}

// Start validates the request shape, assigns a run id when missing and runs
// the workflow in the background.
func (e *Executor) Start(ctx context.Context, req brand.CrawlRequest) (string, error) {
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.WebsiteURL = strings.TrimSpace(req.WebsiteURL)
	if req.OrganizationID == "" || req.WebsiteURL == "" {
		return "", apperr.InvalidInput("organizationId and websiteUrl are required")
	}
	if req.WorkflowRunID == "" {
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return "", apperr.Internal("generate workflow run id", err)
		}
		req.WorkflowRunID = id
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RunTimeout)
		defer cancel()
		if err := e.Run(runCtx, req); err != nil {
			e.logger.Warn("workflow run failed",
				zap.String("organization_id", req.OrganizationID),
				zap.String("workflow_run_id", req.WorkflowRunID),
				zap.Error(err),
			)
		}
	}()
	return req.WorkflowRunID, nil
}

// Wait blocks until background runs finish.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run carries state between steps.
type run struct {
	req     brand.CrawlRequest
	target  *url.URL
	page    brand.FetchResponse
	profile Profile
}

// Run executes the workflow synchronously. It returns the first step error;
// the failure is also recorded in the status record. Each call holds the
// tenant lock under its own token, so a run whose lock is held by another
// run, or by another delivery of the same run, fails with a Conflict and
// writes nothing.
func (e *Executor) Run(ctx context.Context, req brand.CrawlRequest) error {
	if req.WorkflowRunID == "" {
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return fmt.Errorf("generate workflow run id: %w", err)
		}
		req.WorkflowRunID = id
	}
	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("organization_id", req.OrganizationID),
		attribute.String("workflow_run_id", req.WorkflowRunID),
	))
	defer span.End()
	logger := e.logger.With(
		zap.String("organization_id", req.OrganizationID),
		zap.String("workflow_run_id", req.WorkflowRunID),
	)
	holder, err := e.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate lock holder: %w", err)
	}
	if err := e.claimLock(ctx, req, holder); err != nil {
		span.SetStatus(codes.Error, "lock not acquired")
		logger.Info("workflow skipped", zap.Error(err))
		return err
	}
	defer func() {
		// A run cancelled at shutdown hands the lock back to its run id so
		// the redelivered request can reclaim it.
		if errors.Is(ctx.Err(), context.Canceled) {
			e.returnLock(ctx, req, holder, logger)
			return
		}
		e.releaseLock(ctx, req, holder, logger)
	}()
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	start := e.deps.Clock.Now()
	status := e.loadStatus(ctx, req, logger)
	state := &run{req: req}

	steps := []struct {
		id brand.StepID
		fn func(context.Context, *run) error
	}{
		{brand.StepValidate, e.validate},
		{brand.StepCrawl, e.crawl},
		{brand.StepAnalyze, e.analyze},
		{brand.StepSave, e.save},
	}
	for _, step := range steps {
		status.Begin(step.id)
		e.writeStatus(ctx, req.OrganizationID, status, logger)

		stepCtx, stepSpan := tracer.Start(ctx, "workflow."+string(step.id))
		err := step.fn(stepCtx, state)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
		}
		stepSpan.End()
		metrics.ObserveWorkflowStep(string(step.id), err)
		if err != nil {
			span.SetStatus(codes.Error, string(step.id)+" failed")
			status.Fail(step.id, err.Error())
			e.writeStatus(ctx, req.OrganizationID, status, logger)
			metrics.ObserveWorkflow("error", e.deps.Clock.Now().Sub(start))
			logger.Info("workflow failed", zap.String("step", string(step.id)), zap.Error(err))
			return fmt.Errorf("%s: %w", step.id, err)
		}
		logger.Debug("workflow step completed", zap.String("step", string(step.id)))
	}

	status.Complete()
	e.writeStatus(ctx, req.OrganizationID, status, logger)
	metrics.ObserveWorkflow("completed", e.deps.Clock.Now().Sub(start))
	logger.Info("workflow completed", zap.String("url", req.WebsiteURL))
	return nil
}

func (e *Executor) validate(_ context.Context, r *run) error {
	u, err := url.Parse(strings.TrimSpace(r.req.WebsiteURL))
	if err != nil {
		return fmt.Errorf("invalid website url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("website url must use http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("website url must include a host")
	}
	r.target = u
	return nil
}

func (e *Executor) crawl(ctx context.Context, r *run) error {
	target := r.target.String()
	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(ctx, target); err != nil {
			return err
		}
	}
	resp, err := e.deps.Fetcher.Fetch(ctx, brand.FetchRequest{URL: target})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", r.target.Hostname(), err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return errors.New("empty response body")
	}
	if resp.URL == "" {
		resp.URL = target
	}
	r.page = resp
	return nil
}

func (e *Executor) analyze(_ context.Context, r *run) error {
	profile, err := Analyze(r.page.URL, r.page.Body)
	if err != nil {
		return err
	}
	if profile.BrandName == "" {
		profile.BrandName = r.target.Hostname()
	}
	r.profile = profile
	return nil
}

func (e *Executor) save(ctx context.Context, r *run) error {
	hash, err := e.deps.Hasher.Hash(r.page.Body)
	if err != nil {
		return fmt.Errorf("hash page: %w", err)
	}
	uri, err := e.deps.Blobs.PutObject(ctx, e.blobPath(r.req.OrganizationID, hash), e.cfg.ContentType, bytes.NewReader(r.page.Body))
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	_, err = e.deps.Settings.Upsert(ctx, store.BrandSettings{
		OrganizationID: r.req.OrganizationID,
		WebsiteURL:     r.req.WebsiteURL,
		BrandName:      r.profile.BrandName,
		Tagline:        r.profile.Tagline,
		Description:    r.profile.Description,
		LogoURL:        r.profile.LogoURL,
		FaviconURL:     r.profile.FaviconURL,
		PrimaryColor:   r.profile.PrimaryColor,
		Keywords:       r.profile.Keywords,
		SocialLinks:    r.profile.SocialLinks,
		SnapshotURI:    uri,
		ContentHash:    hash,
		WorkflowRunID:  r.req.WorkflowRunID,
	})
	if err != nil {
		return fmt.Errorf("save brand settings: %w", err)
	}
	return nil
}

func (e *Executor) blobPath(organizationID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", organizationID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, organizationID, hash)
}

// claimLock moves the tenant lock to holder. It takes a free lock, or one the
// coordinator took under this run id; the swap is atomic, so only one
// delivery of a run gets through.
func (e *Executor) claimLock(ctx context.Context, req brand.CrawlRequest, holder string) error {
	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	key := brand.LockKey(req.OrganizationID)
	swapped, err := e.deps.KV.CompareAndSwap(storeCtx, key, []byte(req.WorkflowRunID), []byte(holder), e.cfg.LockTTL)
	if err != nil {
		return apperr.Internal("claim crawl lock", err)
	}
	if swapped {
		return nil
	}
	acquired, err := e.deps.KV.SetNX(storeCtx, key, []byte(holder), e.cfg.LockTTL)
	if err != nil {
		return apperr.Internal("acquire crawl lock", err)
	}
	if !acquired {
		return apperr.Conflict("crawl already in progress")
	}
	return nil
}

// loadStatus returns the stored record when it belongs to this run, or a
// fresh one otherwise. The caller holds the lock, so any other record is
// left over from a finished run. A finished record for this same run is a
// redelivery and starts over too.
func (e *Executor) loadStatus(ctx context.Context, req brand.CrawlRequest, logger *zap.Logger) brand.CrawlStatus {
	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	raw, err := e.deps.KV.Get(storeCtx, brand.StatusKey(req.OrganizationID))
	if err != nil {
		if !errors.Is(err, brand.ErrKeyNotFound) {
			logger.Warn("read crawl status failed", zap.Error(err))
		}
		return brand.NewCrawlStatus(req.WorkflowRunID)
	}
	var status brand.CrawlStatus
	if err := json.Unmarshal(raw, &status); err != nil || status.RunID() != req.WorkflowRunID || status.Status != brand.RunCrawling || len(status.Steps) == 0 {
		return brand.NewCrawlStatus(req.WorkflowRunID)
	}
	return status
}

func (e *Executor) writeStatus(ctx context.Context, organizationID string, status brand.CrawlStatus, logger *zap.Logger) {
	payload, err := json.Marshal(status)
	if err != nil {
		logger.Error("encode crawl status failed", zap.Error(err))
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	if err := e.deps.KV.Set(storeCtx, brand.StatusKey(organizationID), payload, e.cfg.StatusTTL); err != nil {
		logger.Warn("write crawl status failed", zap.Error(err))
	}
}

func (e *Executor) releaseLock(ctx context.Context, req brand.CrawlRequest, holder string, logger *zap.Logger) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	released, err := e.deps.KV.DeleteIfEqual(storeCtx, brand.LockKey(req.OrganizationID), []byte(holder))
	if err != nil {
		logger.Warn("release crawl lock failed", zap.Error(err))
		return
	}
	if !released {
		logger.Warn("crawl lock expired before the run finished")
	}
}

// returnLock puts the lock back under the run id for a redelivery to claim.
func (e *Executor) returnLock(ctx context.Context, req brand.CrawlRequest, holder string, logger *zap.Logger) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	_, err := e.deps.KV.CompareAndSwap(storeCtx, brand.LockKey(req.OrganizationID), []byte(holder), []byte(req.WorkflowRunID), e.cfg.LockTTL)
	if err != nil {
		logger.Warn("return crawl lock failed", zap.Error(err))
	}
}
