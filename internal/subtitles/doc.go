// Package subtitles extracts embedded text subtitles from downloaded videos.
//
// Extraction is best-effort. Extractors report one of three outcomes and
// callers log the result without letting it affect the transfer.
package subtitles
