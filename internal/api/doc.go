// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/categories/{id}/runs to queue a category run.
//   - GET /v1/searches/{id} and /v1/categories/{id}/stats for run reporting.
package api
