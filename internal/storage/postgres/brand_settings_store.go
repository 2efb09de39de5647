package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

const brandSettingsColumns = `id, organization_id, website_url, brand_name, tagline, description,
	logo_url, favicon_url, primary_color, keywords, social_links,
	snapshot_uri, content_hash, workflow_run_id, created_at, updated_at`

// BrandSettingsStore implements store.BrandSettingsRepository.
type BrandSettingsStore struct {
	db  DB
	ids brand.IDGenerator
}

// NewBrandSettingsStore builds a store over db. ids assigns primary keys to
// new rows.
func NewBrandSettingsStore(db DB, ids brand.IDGenerator) (*BrandSettingsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &BrandSettingsStore{db: db, ids: ids}, nil
}

// GetByOrganization returns the organization's row or store.ErrNotFound.
func (s *BrandSettingsStore) GetByOrganization(ctx context.Context, organizationID string) (store.BrandSettings, error) {
	query := `SELECT ` + brandSettingsColumns + ` FROM brand_settings WHERE organization_id = $1`
	var (
		rec    store.BrandSettings
		social []byte
	)
	err := s.db.QueryRow(ctx, query, organizationID).Scan(
		&rec.ID,
		&rec.OrganizationID,
		&rec.WebsiteURL,
		&rec.BrandName,
		&rec.Tagline,
		&rec.Description,
		&rec.LogoURL,
		&rec.FaviconURL,
		&rec.PrimaryColor,
		&rec.Keywords,
		&social,
		&rec.SnapshotURI,
		&rec.ContentHash,
		&rec.WorkflowRunID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return store.BrandSettings{}, fmt.Errorf("select brand settings: %w", mapError(err))
	}
	if len(social) > 0 {
		if err := json.Unmarshal(social, &rec.SocialLinks); err != nil {
			return store.BrandSettings{}, fmt.Errorf("decode social links: %w", err)
		}
	}
	return rec, nil
}

// Upsert inserts the row or updates the existing one for the organization.
// ID and created_at survive updates.
func (s *BrandSettingsStore) Upsert(ctx context.Context, settings store.BrandSettings) (store.BrandSettings, error) {
	if settings.OrganizationID == "" {
		return store.BrandSettings{}, fmt.Errorf("organization id is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return store.BrandSettings{}, fmt.Errorf("generate brand settings id: %w", err)
	}
	keywords := settings.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	social := settings.SocialLinks
	if social == nil {
		social = map[string]string{}
	}
	socialJSON, err := json.Marshal(social)
	if err != nil {
		return store.BrandSettings{}, fmt.Errorf("marshal social links: %w", err)
	}

	query := `
INSERT INTO brand_settings (
	id, organization_id, website_url, brand_name, tagline, description,
	logo_url, favicon_url, primary_color, keywords, social_links,
	snapshot_uri, content_hash, workflow_run_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (organization_id) DO UPDATE SET
	website_url = EXCLUDED.website_url,
	brand_name = EXCLUDED.brand_name,
	tagline = EXCLUDED.tagline,
	description = EXCLUDED.description,
	logo_url = EXCLUDED.logo_url,
	favicon_url = EXCLUDED.favicon_url,
	primary_color = EXCLUDED.primary_color,
	keywords = EXCLUDED.keywords,
	social_links = EXCLUDED.social_links,
	snapshot_uri = EXCLUDED.snapshot_uri,
	content_hash = EXCLUDED.content_hash,
	workflow_run_id = EXCLUDED.workflow_run_id,
	updated_at = now()
RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		id,
		settings.OrganizationID,
		settings.WebsiteURL,
		settings.BrandName,
		settings.Tagline,
		settings.Description,
		settings.LogoURL,
		settings.FaviconURL,
		settings.PrimaryColor,
		keywords,
		socialJSON,
		settings.SnapshotURI,
		settings.ContentHash,
		settings.WorkflowRunID,
	).Scan(&settings.ID, &settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return store.BrandSettings{}, fmt.Errorf("upsert brand settings: %w", mapError(err))
	}
	settings.Keywords = keywords
	settings.SocialLinks = social
	return settings, nil
}
