// Package api serves the latest radar snapshot over HTTP. Notable routes:
//   - GET /radar-latest.png (configurable) for the published image.
//   - GET|POST /refresh and /update to dispatch an out-of-band capture.
//   - GET /status for the outcome of the most recent run.
//   - GET /healthz / readyz for platform probes.
//   - GET /metrics for Prometheus scraping.
package api
