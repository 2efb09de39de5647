// Package brand holds the domain model shared by the crawl coordinator, the
// workflow executor, and the HTTP layer: crawl status records, step
// definitions, key layout, and the collaborator interfaces those components
// depend on.
package brand
