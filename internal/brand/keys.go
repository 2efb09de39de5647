package brand

// LockKey returns the key-value location of a tenant's crawl lock. The lock
// holds the workflow-run id of the run that owns it.
func LockKey(tenantID string) string {
	return "crawler:" + tenantID + ":lock"
}

// StatusKey returns the key-value location of a tenant's crawl status.
func StatusKey(tenantID string) string {
	return "crawler:" + tenantID + ":status"
}
