package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// OrganizationStore implements store.OrganizationRepository over the
// organization and member tables.
type OrganizationStore struct {
	db DB
}

// NewOrganizationStore builds a store over db.
func NewOrganizationStore(db DB) (*OrganizationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &OrganizationStore{db: db}, nil
}

// ListForUser returns the user's organizations, oldest first.
func (s *OrganizationStore) ListForUser(ctx context.Context, userID string) ([]store.MemberOrganization, error) {
	query := `
SELECT o.id, o.name, o.slug, COALESCE(o.logo, ''), o.created_at, m.role
FROM organization o
JOIN member m ON m.organization_id = o.id
WHERE m.user_id = $1
ORDER BY o.created_at, o.id`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", mapError(err))
	}
	defer rows.Close()

	out := []store.MemberOrganization{}
	for rows.Next() {
		var (
			org  store.MemberOrganization
			role string
		)
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Logo, &org.CreatedAt, &role); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		org.Role = store.Role(role)
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", mapError(err))
	}
	return out, nil
}

// GetForUser returns one organization the user belongs to, or
// store.ErrNotFound when the user is not a member.
func (s *OrganizationStore) GetForUser(ctx context.Context, userID, organizationID string) (store.MemberOrganization, error) {
	query := `
SELECT o.id, o.name, o.slug, COALESCE(o.logo, ''), o.created_at, m.role
FROM organization o
JOIN member m ON m.organization_id = o.id
WHERE m.user_id = $1 AND o.id = $2`

	var (
		org  store.MemberOrganization
		role string
	)
	err := s.db.QueryRow(ctx, query, userID, organizationID).
		Scan(&org.ID, &org.Name, &org.Slug, &org.Logo, &org.CreatedAt, &role)
	if err != nil {
		return store.MemberOrganization{}, fmt.Errorf("get organization: %w", mapError(err))
	}
	org.Role = store.Role(role)
	return org, nil
}
