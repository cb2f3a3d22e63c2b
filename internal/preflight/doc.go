// Package preflight provides readiness checks for the filesystem paths and
// remote service vidrelay depends on.
//
// The "vidrelay check" command runs every check and prints a table. The daemon
// runs the same checks once at startup and logs failures without refusing to
// start, since folders may be mounted later and the service may come back.
package preflight
