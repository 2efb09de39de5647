package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// IdentityStore holds organizations, memberships, and sessions. It satisfies
// both store.OrganizationRepository and store.SessionRepository.
type IdentityStore struct {
	mu          sync.RWMutex
	orgs        map[string]store.Organization
	memberships map[string]map[string]store.Role // userID -> orgID -> role
	sessions    map[string]store.Session
}

// NewIdentityStore creates an empty identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		orgs:        make(map[string]store.Organization),
		memberships: make(map[string]map[string]store.Role),
		sessions:    make(map[string]store.Session),
	}
}

// AddOrganization registers org.
func (s *IdentityStore) AddOrganization(org store.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
}

// AddMember grants userID role in organizationID.
func (s *IdentityStore) AddMember(userID, organizationID string, role store.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberships[userID] == nil {
		s.memberships[userID] = make(map[string]store.Role)
	}
	s.memberships[userID][organizationID] = role
}

// PutSession stores or replaces a session.
func (s *IdentityStore) PutSession(session store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
}

// ListForUser returns the user's organizations ordered by creation time.
func (s *IdentityStore) ListForUser(_ context.Context, userID string) ([]store.MemberOrganization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.MemberOrganization, 0, len(s.memberships[userID]))
	for orgID, role := range s.memberships[userID] {
		org, ok := s.orgs[orgID]
		if !ok {
			continue
		}
		out = append(out, store.MemberOrganization{Organization: org, Role: role})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetForUser returns one of the user's organizations or store.ErrNotFound.
func (s *IdentityStore) GetForUser(_ context.Context, userID, organizationID string) (store.MemberOrganization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.memberships[userID][organizationID]
	if !ok {
		return store.MemberOrganization{}, store.ErrNotFound
	}
	org, ok := s.orgs[organizationID]
	if !ok {
		return store.MemberOrganization{}, store.ErrNotFound
	}
	return store.MemberOrganization{Organization: org, Role: role}, nil
}

// GetSession returns the session for token or store.ErrNotFound.
func (s *IdentityStore) GetSession(_ context.Context, token string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	if session.ActiveOrganizationID != nil {
		id := *session.ActiveOrganizationID
		session.ActiveOrganizationID = &id
	}
	return session, nil
}

// SetActiveOrganization updates the session's active organization.
func (s *IdentityStore) SetActiveOrganization(_ context.Context, token string, organizationID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return store.ErrNotFound
	}
	if organizationID == nil {
		session.ActiveOrganizationID = nil
	} else {
		id := *organizationID
		session.ActiveOrganizationID = &id
	}
	s.sessions[token] = session
	return nil
}
