package store

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// BrandSettingsRepository persists brand profiles keyed by organization.
type BrandSettingsRepository interface {
	GetByOrganization(ctx context.Context, organizationID string) (BrandSettings, error)
	Upsert(ctx context.Context, settings BrandSettings) (BrandSettings, error)
}

// OrganizationRepository reads organizations and memberships.
type OrganizationRepository interface {
	ListForUser(ctx context.Context, userID string) ([]MemberOrganization, error)
	GetForUser(ctx context.Context, userID, organizationID string) (MemberOrganization, error)
}

// SessionRepository resolves sessions and updates their active organization.
type SessionRepository interface {
	GetSession(ctx context.Context, token string) (Session, error)
	SetActiveOrganization(ctx context.Context, token string, organizationID *string) error
}
