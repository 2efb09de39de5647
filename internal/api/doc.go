// Package api hosts the HTTP server, middleware, and JSON handlers of the
// brand dashboard backend. Notable routes:
//   - POST /crawl/start and GET /crawl/status for the crawl coordinator.
//   - GET /brand-settings for the persisted brand profile.
//   - POST /crawl for the workflow executor hand-off.
//   - GET/POST /organizations... for the organization switcher.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
