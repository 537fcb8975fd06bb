// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks/{discover,feeds,map,dirty} to enqueue pipeline jobs; a
//     scheduler (Cloud Scheduler, cron) hits these periodically.
//   - GET /v1/status, /v1/categories and /v1/entries for read-only catalog
//     inspection via the CatalogHandler.
package api
