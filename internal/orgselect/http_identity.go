package orgselect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// ServiceError is a non-2xx answer from the identity endpoints.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("identity service returned %d: %s", e.StatusCode, e.Message)
}

// UserMessage returns the server-provided message.
func (e *ServiceError) UserMessage() string {
	return e.Message
}

// HTTPIdentity implements IdentityService against the organization
// endpoints, authenticating with a bearer session token.
type HTTPIdentity struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPIdentity builds a client. A nil client uses http.DefaultClient.
func NewHTTPIdentity(baseURL, token string, client *http.Client) *HTTPIdentity {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIdentity{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// ListOrganizations calls GET /organizations.
func (c *HTTPIdentity) ListOrganizations(ctx context.Context) ([]store.MemberOrganization, error) {
	var orgs []store.MemberOrganization
	if err := c.do(ctx, http.MethodGet, "/organizations", nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// ActiveOrganization calls GET /organizations/active.
func (c *HTTPIdentity) ActiveOrganization(ctx context.Context) (*store.MemberOrganization, error) {
	var org *store.MemberOrganization
	if err := c.do(ctx, http.MethodGet, "/organizations/active", nil, &org); err != nil {
		return nil, err
	}
	return org, nil
}

// SetActiveOrganization calls POST /organizations/active.
func (c *HTTPIdentity) SetActiveOrganization(ctx context.Context, organizationID *string) error {
	body := struct {
		OrganizationID *string `json:"organizationId"`
	}{OrganizationID: organizationID}
	return c.do(ctx, http.MethodPost, "/organizations/active", body, nil)
}

func (c *HTTPIdentity) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &ServiceError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
