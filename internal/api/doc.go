// Package api hosts the optional status server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier for the size of each frontier set.
//   - GET /v1/frontier/errored for the URLs recorded as errored.
package api
