// Package coordinator admits at most one crawl per tenant at a time using an
// atomic lock in the key-value store, seeds the status record pollers read,
// and hands the run to the workflow executor without waiting on it.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/metrics"
)

// DispatchFailedMessage is written to the status record when rollback is on
// and the hand-off fails.
const DispatchFailedMessage = "workflow dispatch failed"

// Config tunes the coordinator.
type Config struct {
	LockTTL                   time.Duration
	StatusTTL                 time.Duration
	StoreTimeout              time.Duration
	DispatchTimeout           time.Duration
	RollbackOnDispatchFailure bool
	// Backend labels dispatch metrics.
	Backend string
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 300 * time.Second
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = 300 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.Backend == "" {
		c.Backend = "http"
	}
	return c
}

// Coordinator implements StartCrawl and GetStatus.
type Coordinator struct {
	kv         brand.KVStore
	ids        brand.IDGenerator
	dispatcher brand.Dispatcher
	cfg        Config
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New builds a Coordinator.
func New(kv brand.KVStore, ids brand.IDGenerator, dispatcher brand.Dispatcher, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		kv:         kv,
		ids:        ids,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// StartCrawl acquires the tenant lock, writes the initial status and
// dispatches the workflow. It returns the new workflow-run id.
func (c *Coordinator) StartCrawl(ctx context.Context, caller auth.Principal, tenantID, websiteURL string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	websiteURL = strings.TrimSpace(websiteURL)
	if err := authorize(caller, tenantID, websiteURL, true); err != nil {
		metrics.ObserveCrawlStart(outcome(err))
		return "", err
	}

	runID, err := c.ids.NewID()
	if err != nil {
		metrics.ObserveCrawlStart("error")
		return "", apperr.Internal("generate workflow run id", err)
	}

	acquired, err := c.setNX(ctx, brand.LockKey(tenantID), []byte(runID), c.cfg.LockTTL)
	if err != nil {
		metrics.ObserveCrawlStart("error")
		return "", apperr.Internal("acquire crawl lock", err)
	}
	if !acquired {
		metrics.ObserveCrawlStart("conflict")
		return "", apperr.Conflict("crawl already in progress")
	}

	status := brand.NewCrawlStatus(runID)
	if err := c.writeStatus(ctx, tenantID, status); err != nil {
		c.releaseLock(ctx, tenantID, runID)
		metrics.ObserveCrawlStart("error")
		return "", apperr.Internal("write crawl status", err)
	}

	req := brand.CrawlRequest{
		OrganizationID: tenantID,
		WebsiteURL:     websiteURL,
		WorkflowRunID:  runID,
	}
	c.wg.Add(1)
	go c.dispatch(context.WithoutCancel(ctx), req)

	c.logger.Info("crawl started",
		zap.String("organization_id", tenantID),
		zap.String("workflow_run_id", runID),
	)
	metrics.ObserveCrawlStart("started")
	return runID, nil
}

// GetStatus returns the tenant's crawl status, or an idle record when none
// is stored.
func (c *Coordinator) GetStatus(ctx context.Context, caller auth.Principal, tenantID string) (brand.CrawlStatus, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := authorize(caller, tenantID, "", false); err != nil {
		return brand.CrawlStatus{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	raw, err := c.kv.Get(storeCtx, brand.StatusKey(tenantID))
	if errors.Is(err, brand.ErrKeyNotFound) {
		return brand.IdleStatus(), nil
	}
	if err != nil {
		return brand.CrawlStatus{}, apperr.Internal("read crawl status", err)
	}
	var status brand.CrawlStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return brand.CrawlStatus{}, apperr.Internal("decode crawl status", err)
	}
	if status.Steps == nil {
		status.Steps = []brand.Step{}
	}
	return status, nil
}

// Wait blocks until all in-flight dispatches return.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) dispatch(ctx context.Context, req brand.CrawlRequest) {
	defer c.wg.Done()

	dispatchCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()

	err := c.dispatcher.Dispatch(dispatchCtx, req)
	metrics.ObserveDispatch(c.cfg.Backend, err)
	if err == nil {
		return
	}
	c.logger.Error("workflow dispatch failed",
		zap.String("organization_id", req.OrganizationID),
		zap.String("workflow_run_id", req.WorkflowRunID),
		zap.Error(err),
	)
	if !c.cfg.RollbackOnDispatchFailure {
		return
	}

	// A lock that has since expired and changed hands belongs to another
	// run, and so does the status record.
	if !c.releaseLock(ctx, req.OrganizationID, req.WorkflowRunID) {
		return
	}
	status := brand.NewCrawlStatus(req.WorkflowRunID)
	status.Fail(brand.StepValidate, DispatchFailedMessage)
	if err := c.writeStatus(ctx, req.OrganizationID, status); err != nil {
		c.logger.Error("rollback status write failed",
			zap.String("organization_id", req.OrganizationID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	return c.kv.SetNX(storeCtx, key, value, ttl)
}

func (c *Coordinator) writeStatus(ctx context.Context, tenantID string, status brand.CrawlStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	return c.kv.Set(storeCtx, brand.StatusKey(tenantID), payload, c.cfg.StatusTTL)
}

// releaseLock drops the tenant lock only while runID still owns it and
// reports whether it did.
func (c *Coordinator) releaseLock(ctx context.Context, tenantID, runID string) bool {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()
	released, err := c.kv.DeleteIfEqual(storeCtx, brand.LockKey(tenantID), []byte(runID))
	if err != nil {
		c.logger.Warn("release crawl lock failed",
			zap.String("organization_id", tenantID),
			zap.Error(err),
		)
	}
	return released
}

// authorize applies the caller and input preconditions in order: session,
// required fields, then tenant match.
func authorize(caller auth.Principal, tenantID, websiteURL string, needURL bool) error {
	if !caller.Authenticated() || !caller.HasActiveOrganization() {
		return apperr.Unauthorized("unauthorized")
	}
	if tenantID == "" {
		return apperr.InvalidInput("organizationId is required")
	}
	if needURL && websiteURL == "" {
		return apperr.InvalidInput("websiteUrl is required")
	}
	if tenantID != caller.ActiveOrganizationID {
		return apperr.Unauthorized("unauthorized")
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
