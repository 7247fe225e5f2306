// Package transport builds and caches outbound HTTP clients honoring
// each account's proxy configuration.
//
// Clients are cached per account and keyed by the proxy fingerprint, so
// changing an account's proxy rebuilds its client on next use. HTTP and
// HTTPS proxies go through the standard transport proxy hook; SOCKS5
// uses a custom dialer with optional authentication.
//
// The same client serves OAuth token exchange and data-plane relaying,
// so both take the identical egress path.
package transport
