// Package config loads, normalizes, and validates vidrelay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the VIDRELAY_REMOTE_URL
// environment fallback. The Config type centralizes every knob the daemon and
// CLI need: the conversion service endpoint, chunk and retry policies,
// monitored folders, and where transfer history lives.
//
// Always obtain settings through this package so downstream code receives
// absolute paths and clear validation errors.
package config
