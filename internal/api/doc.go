// Package api hosts the ops HTTP server. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tasks lists triggers with each task's last run.
//   - POST /v1/tasks/{name}/run starts a manual run and returns 202.
//   - GET /v1/runs lists recent runs, optionally filtered by ?task= and ?limit=.
package api
