// Command vidrelay uploads new media files from monitored folders to a remote
// conversion service and downloads the converted results.
//
// "vidrelay run" starts the interval daemon, "vidrelay once" runs a single
// cycle, and the history, check, and config subcommands inspect and maintain
// local state.
package main
