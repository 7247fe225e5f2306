// Package upstream contains the per-platform adapters the relay core
// uses to talk to provider endpoints.
//
// Each adapter knows two things about its platform: how to refresh a
// credential and how to authorize a forwarded request. The upstream wire
// format itself is treated as an opaque HTTP/SSE stream. The Registry
// maps platform tags to adapters for the forwarder and token manager.
package upstream
