// Package daemon runs sync cycles on a fixed interval for the lifetime of the
// process.
//
// A flock-based lock beside the history file keeps a second agent from
// sharing the same state. The daemon runs one cycle at startup and then one
// per tick; cycles never overlap. Transfer logic lives in the syncer; the
// daemon only owns startup, scheduling, and shutdown.
package daemon
