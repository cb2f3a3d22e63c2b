// Package converter talks to the remote conversion service.
//
// Three endpoints are used: POST /upload for multipart chunk uploads,
// GET /api/status for the list of finished conversions, and
// GET /download/<name> for range-capable retrieval of converted files.
// Each operation type has its own http.Client so control requests keep a
// short timeout while transfers may run for hours.
package converter
