// Claude Relay Service exposes a uniform messages API while rotating
// client traffic across a pool of upstream AI-provider accounts.
//
// Usage:
//
//	# Start the relay with default configuration
//	claude-relay run
//
//	# Start with a custom configuration file
//	claude-relay run --config /path/to/config.yaml
//
//	# Validate a configuration file
//	claude-relay validate --config /path/to/config.yaml
//
//	# Manage pool accounts
//	claude-relay accounts list
//	claude-relay accounts add --platform claude-console --name backup --api-key sk-...
//
//	# Show version information
//	claude-relay version
package main

func main() {
	Execute()
}
