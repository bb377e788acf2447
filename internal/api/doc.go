// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/ingest to run an ingestion cycle.
//   - GET /v1/entities and /v1/entities/{id}, with evaluation sub-routes.
//   - GET /v1/runs and /v1/runs/{id} for ingestion history.
package api
