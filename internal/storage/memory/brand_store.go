package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/clock/system"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// BrandSettingsStore keeps one brand profile per organization.
type BrandSettingsStore struct {
	mu      sync.RWMutex
	records map[string]store.BrandSettings
	clock   brand.Clock
	ids     brand.IDGenerator
}

// NewBrandSettingsStore creates an empty store. ids assigns record IDs on
// first insert.
func NewBrandSettingsStore(ids brand.IDGenerator, clock brand.Clock) *BrandSettingsStore {
	if clock == nil {
		clock = system.New()
	}
	return &BrandSettingsStore{
		records: make(map[string]store.BrandSettings),
		clock:   clock,
		ids:     ids,
	}
}

// GetByOrganization returns the organization's record or store.ErrNotFound.
func (s *BrandSettingsStore) GetByOrganization(_ context.Context, organizationID string) (store.BrandSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[organizationID]
	if !ok {
		return store.BrandSettings{}, store.ErrNotFound
	}
	return cloneSettings(rec), nil
}

// Upsert inserts or replaces the organization's record, keeping ID and
// CreatedAt stable across updates.
func (s *BrandSettingsStore) Upsert(_ context.Context, settings store.BrandSettings) (store.BrandSettings, error) {
	if settings.OrganizationID == "" {
		return store.BrandSettings{}, fmt.Errorf("organization id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.records[settings.OrganizationID]; ok {
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
	} else {
		id, err := s.ids.NewID()
		if err != nil {
			return store.BrandSettings{}, fmt.Errorf("generate brand settings id: %w", err)
		}
		settings.ID = id
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	s.records[settings.OrganizationID] = cloneSettings(settings)
	return cloneSettings(settings), nil
}

func cloneSettings(src store.BrandSettings) store.BrandSettings {
	cp := src
	if src.Keywords != nil {
		cp.Keywords = append([]string(nil), src.Keywords...)
	}
	if src.SocialLinks != nil {
		cp.SocialLinks = make(map[string]string, len(src.SocialLinks))
		for k, v := range src.SocialLinks {
			cp.SocialLinks[k] = v
		}
	}
	return cp
}
