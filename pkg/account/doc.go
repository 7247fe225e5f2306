// Package account defines the domain types shared across the service:
// platforms, credentials, proxy configuration and account scheduling
// state. It has no dependencies on the other relay packages.
package account
