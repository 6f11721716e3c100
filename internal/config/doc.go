// Package config loads and validates the application configuration from a
// YAML file with an environment-variable overlay, and resolves the immutable
// brand roster exactly once at startup.
package config
