// Package strategies contains the pluggable account-selection policies
// used by the scheduler.
//
// A Strategy picks one account from the candidates the pool has already
// filtered for platform, status, cooldown and concurrency ceiling. The
// exact weighting formula is deliberately a policy choice: deployments
// pick a strategy by name in configuration, and ByName resolves it:
//
//	strategy := strategies.ByName("least-recent")
//
// Unknown names fall back to the weighted round-robin default.
package strategies
