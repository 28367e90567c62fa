// Package config loads, defaults, and validates the TOML configuration for
// the task engine and its CLI.
package config
