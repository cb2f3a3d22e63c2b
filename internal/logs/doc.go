// Package logs reads the agent log file for "vidrelay logs": the last N lines,
// optionally followed by new lines as they are written.
//
// Memory use is bounded by the requested line count. Follow mode polls the
// file and restarts from the beginning when it shrinks, so it keeps working
// across truncation.
package logs
