// Package config loads and validates the YAML server configuration:
// identity and capacity of the relay, optional password protection, the
// admin HTTP API, and logging.
package config
