// Package logging builds the slog loggers used across vidrelay.
//
// Two formats are supported: a human-oriented console handler that prints
// "timestamp LEVEL component: message key=value" lines, and a JSON handler
// for log shippers. Both write to stdout and to the configured log file.
// Helpers in this package stamp cycle and file identifiers taken from the
// context so a single transfer can be followed across components.
package logging
