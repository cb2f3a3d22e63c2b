// Package services defines shared utilities consumed by the transfer engine
// and its remote integrations.
//
// Key responsibilities:
//   - Context helpers that stamp cycle IDs, source paths, and operation names
//     for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     transient, permanent, protocol, or local filesystem errors so each
//     component can apply its retry policy uniformly.
//
// The converter subpackage holds the HTTP client for the remote conversion
// service.
package services
