package store

import "time"

// Role is a member's role within an organization.
type Role string

// Membership roles.
const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// BrandSettings is the persisted brand profile of one organization.
type BrandSettings struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	WebsiteURL     string            `json:"websiteUrl"`
	BrandName      string            `json:"brandName"`
	Tagline        string            `json:"tagline"`
	Description    string            `json:"description"`
	LogoURL        string            `json:"logoUrl"`
	FaviconURL     string            `json:"faviconUrl"`
	PrimaryColor   string            `json:"primaryColor"`
	Keywords       []string          `json:"keywords"`
	SocialLinks    map[string]string `json:"socialLinks"`
	SnapshotURI    string            `json:"snapshotUri"`
	ContentHash    string            `json:"contentHash"`
	WorkflowRunID  string            `json:"workflowRunId"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Organization is a tenant.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Logo      string    `json:"logo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberOrganization is an organization as seen by one member.
type MemberOrganization struct {
	Organization
	Role Role `json:"role"`
}

// Session is an authenticated browser or API session.
type Session struct {
	Token                string
	UserID               string
	ActiveOrganizationID *string
	ExpiresAt            time.Time
}

// IsExpired reports whether the session is no longer valid at now.
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
