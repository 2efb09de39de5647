// Package settings serves the persisted brand profile of an organization.
package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// Service reads brand settings on behalf of an authenticated caller.
type Service struct {
	repo store.BrandSettingsRepository
}

// NewService builds a Service.
func NewService(repo store.BrandSettingsRepository) *Service {
	return &Service{repo: repo}
}

// Get returns the settings of organizationID. The caller must have it as the
// active organization.
func (s *Service) Get(ctx context.Context, caller auth.Principal, organizationID string) (store.BrandSettings, error) {
	organizationID = strings.TrimSpace(organizationID)
	if !caller.Authenticated() || !caller.HasActiveOrganization() {
		return store.BrandSettings{}, apperr.Unauthorized("unauthorized")
	}
	if organizationID == "" {
		return store.BrandSettings{}, apperr.InvalidInput("organizationId is required")
	}
	if organizationID != caller.ActiveOrganizationID {
		return store.BrandSettings{}, apperr.Unauthorized("unauthorized")
	}

	settings, err := s.repo.GetByOrganization(ctx, organizationID)
	if errors.Is(err, store.ErrNotFound) {
		return store.BrandSettings{}, apperr.NotFound("brand settings not found")
	}
	if err != nil {
		return store.BrandSettings{}, apperr.Internal("load brand settings", err)
	}
	return settings, nil
}
