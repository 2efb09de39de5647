// Package store defines the persistence models and repository interfaces for
// brand settings, organizations, and sessions. Implementations live in the
// storage packages; this package must not import database drivers or
// concrete clients.
package store
