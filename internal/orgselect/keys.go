package orgselect

import "strings"

// QueryKey identifies a cached query, e.g. ["auth", "organizations"].
type QueryKey []string

// String renders the key as slash-separated segments.
func (k QueryKey) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether k starts with prefix.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Query keys.
var (
	KeySession            = QueryKey{"auth", "session"}
	KeyOrganizations      = QueryKey{"auth", "organizations"}
	KeyActiveOrganization = QueryKey{"auth", "activeOrganization"}
)

// BrandSettingsKey is the cache key of an organization's brand settings.
func BrandSettingsKey(organizationID string) QueryKey {
	return QueryKey{"brand-settings", organizationID}
}

// CrawlerStatusKey is the cache key of an organization's crawl status.
func CrawlerStatusKey(organizationID string) QueryKey {
	return QueryKey{"brand-settings", organizationID, "crawler-status"}
}
