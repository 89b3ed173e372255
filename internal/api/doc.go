// Package api hosts the status server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/cycles/latest for the most recent crawl cycle report.
//   - GET /v1/ledger for the ids of archived stories.
package api
