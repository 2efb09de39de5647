// Package membership exposes the caller's organizations and switches the
// session's active organization.
package membership

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// Service backs the organization endpoints.
type Service struct {
	orgs     store.OrganizationRepository
	sessions store.SessionRepository
	logger   *zap.Logger
}

// NewService builds a Service.
func NewService(orgs store.OrganizationRepository, sessions store.SessionRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{orgs: orgs, sessions: sessions, logger: logger}
}

// List returns the caller's memberships.
func (s *Service) List(ctx context.Context, caller auth.Principal) ([]store.MemberOrganization, error) {
	if !caller.Authenticated() {
		return nil, apperr.Unauthorized("unauthorized")
	}
	orgs, err := s.orgs.ListForUser(ctx, caller.UserID)
	if err != nil {
		return nil, apperr.Internal("list organizations", err)
	}
	if orgs == nil {
		orgs = []store.MemberOrganization{}
	}
	return orgs, nil
}

// Active returns the session's active organization, or nil when none is set
// or the caller is no longer a member of it.
func (s *Service) Active(ctx context.Context, caller auth.Principal) (*store.MemberOrganization, error) {
	if !caller.Authenticated() {
		return nil, apperr.Unauthorized("unauthorized")
	}
	if !caller.HasActiveOrganization() {
		return nil, nil
	}
	org, err := s.orgs.GetForUser(ctx, caller.UserID, caller.ActiveOrganizationID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("active organization without membership",
			zap.String("user_id", caller.UserID),
			zap.String("organization_id", caller.ActiveOrganizationID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("load active organization", err)
	}
	return &org, nil
}

// SetActive points the caller's session at organizationID. A nil id clears
// the active organization.
func (s *Service) SetActive(ctx context.Context, caller auth.Principal, organizationID *string) (*string, error) {
	if !caller.Authenticated() {
		return nil, apperr.Unauthorized("unauthorized")
	}
	if organizationID != nil {
		id := strings.TrimSpace(*organizationID)
		if id == "" {
			return nil, apperr.InvalidInput("organizationId must not be empty")
		}
		if _, err := s.orgs.GetForUser(ctx, caller.UserID, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.NotFound("organization not found")
			}
			return nil, apperr.Internal("load organization", err)
		}
		organizationID = &id
	}

	if err := s.sessions.SetActiveOrganization(ctx, caller.SessionToken, organizationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthorized("unauthorized")
		}
		return nil, apperr.Internal("update active organization", err)
	}
	s.logger.Info("active organization changed",
		zap.String("user_id", caller.UserID),
		zap.Stringp("organization_id", organizationID),
	)
	return organizationID, nil
}
