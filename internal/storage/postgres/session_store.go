package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// SessionStore implements store.SessionRepository over the session table.
type SessionStore struct {
	db DB
}

// NewSessionStore builds a store over db.
func NewSessionStore(db DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SessionStore{db: db}, nil
}

// GetSession loads the session for token.
func (s *SessionStore) GetSession(ctx context.Context, token string) (store.Session, error) {
	query := `SELECT token, user_id, active_organization_id, expires_at FROM session WHERE token = $1`
	var session store.Session
	err := s.db.QueryRow(ctx, query, token).
		Scan(&session.Token, &session.UserID, &session.ActiveOrganizationID, &session.ExpiresAt)
	if err != nil {
		return store.Session{}, fmt.Errorf("get session: %w", mapError(err))
	}
	return session, nil
}

// SetActiveOrganization points the session at organizationID, or clears it
// when nil.
func (s *SessionStore) SetActiveOrganization(ctx context.Context, token string, organizationID *string) error {
	query := `UPDATE session SET active_organization_id = $2, updated_at = now() WHERE token = $1`
	tag, err := s.db.Exec(ctx, query, token, organizationID)
	if err != nil {
		return fmt.Errorf("update session: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
