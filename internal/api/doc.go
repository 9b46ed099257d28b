// Package api hosts the operational HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/templates/{source} for the active extraction template.
//   - POST /v1/sources/{source}/crawl to enqueue an immediate crawl.
//   - POST /v1/extract to fetch and extract one URL without persisting it.
package api
