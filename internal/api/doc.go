// Package api hosts the HTTP server, middleware, and REST handlers for the
// book catalog. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/books/... for books, snapshot history and search.
//   - GET /v1/categories/... and /v1/analytics/... for aggregates.
//   - GET /v1/runs for ingestion run history via catalog.RunStore.
package api
