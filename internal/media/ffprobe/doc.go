// Package ffprobe wraps the ffprobe CLI for stream inspection.
//
// Inspect runs ffprobe with JSON output and decodes the streams and format
// sections. Helpers select text subtitle streams, which are the only streams
// vidrelay extracts after a download.
package ffprobe
