// Package config loads service configuration from environment variables
// (prefix RELAY_) and an optional config.yaml, applies defaults for every
// runtime knob and validates the result.
package config
