// Package server provides the HTTP front end of the relay service.
//
// # Routes
//
//   - POST /v1/messages   relay to claude, claude-console accounts
//   - POST /v1/responses  relay to openai accounts
//   - GET  /healthz       liveness with pool counts
//   - GET  /metrics       Prometheus exposition (when enabled)
//   - /admin/...          account list, pause/resume, usage totals
//
// The router is chi with request-ID, real-IP and panic-recovery
// middleware. Start blocks until the context is cancelled, then shuts
// the listener down gracefully.
package server
